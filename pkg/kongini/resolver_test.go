package kongini

import (
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
)

func TestINIBasic(t *testing.T) {
	type watch struct {
		Ignore []string
	}

	var cli struct {
		ListenAddr string `name:"listen-addr"`
		MaxClients int
		AllowWrite bool
		Dirs       []string

		Watch watch `prefix:"watch." embed:""`
	}

	ini := `
listen-addr=0.0.0.0:22180
max-clients=4
allow-write=true
dirs=Data,Save

[watch]
ignore=**/*.tmp
	`

	r, err := Loader(strings.NewReader(ini))
	assert.NoError(t, err)

	parser := mustNew(t, &cli, kong.Resolvers(r))
	_, err = parser.Parse([]string{})
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0:22180", cli.ListenAddr)
	assert.Equal(t, 4, cli.MaxClients)
	assert.True(t, cli.AllowWrite)
	assert.Equal(t, []string{"Data", "Save"}, cli.Dirs)
	assert.Equal(t, []string{"**/*.tmp"}, cli.Watch.Ignore)
}

func TestINICommandSection(t *testing.T) {
	var cli struct {
		Serve struct {
			ListenAddr string `name:"listen-addr"`
		} `cmd:""`
	}

	ini := `
[serve]
listen-addr=0.0.0.0:22180
	`

	r, err := Loader(strings.NewReader(ini))
	assert.NoError(t, err)

	parser := mustNew(t, &cli, kong.Resolvers(r))
	_, err = parser.Parse([]string{"serve"})
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0:22180", cli.Serve.ListenAddr)
}

func TestINITitleUnderscoreSectionFallback(t *testing.T) {
	var cli struct {
		Serve struct {
			ListenAddr string `name:"listen-addr"`
		} `cmd:""`
	}

	ini := `
[Serve]
listen-addr=127.0.0.1:22180
	`

	r, err := Loader(strings.NewReader(ini))
	assert.NoError(t, err)

	parser := mustNew(t, &cli, kong.Resolvers(r))
	_, err = parser.Parse([]string{"serve"})
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1:22180", cli.Serve.ListenAddr)
}

func mustNew(t *testing.T, cli any, options ...kong.Option) *kong.Kong {
	t.Helper()
	options = append([]kong.Option{
		kong.Name("test"),
		kong.Exit(func(int) {
			t.Helper()
			t.Fatalf("unexpected exit()")
		}),
	}, options...)
	parser, err := kong.New(cli, options...)
	assert.NoError(t, err)
	return parser
}
