package copier

import (
	"io"
	"sync"
)

// Copier copies streams through pooled buffers so large transfers do not
// allocate per call. The zero-buffer variant falls back to io.Copy.
type Copier struct {
	pool *sync.Pool
}

func NewPooledCopier(bufferSize int64) *Copier {
	return &Copier{
		pool: &sync.Pool{
			New: func() interface{} {
				ret := make([]byte, bufferSize)
				return &ret
			},
		},
	}
}

func NewCopier() *Copier {
	return &Copier{}
}

type writerOnly struct{ io.Writer }

type readerOnly struct{ io.Reader }

func (c *Copier) Copy(w io.Writer, r io.Reader) (int64, error) {
	if c.pool == nil {
		return io.Copy(w, r)
	}

	// wrappers hide ReaderFrom/WriterTo so io.CopyBuffer actually uses our buffer

	buf := c.pool.Get().(*[]byte)
	defer c.pool.Put(buf)

	return io.CopyBuffer(writerOnly{w}, readerOnly{r}, *buf)
}

func (c *Copier) CopyN(w io.Writer, r io.Reader, n int64) (int64, error) {
	written, err := c.Copy(w, io.LimitReader(r, n))
	if written == n {
		return written, nil
	}
	if written < n && err == nil {
		err = io.EOF
	}

	return written, err
}
