// Package kongini resolves kong flag values from INI configuration files.
// The flag's command path selects the section, so "moriartyd server
// --listen-addr" reads key "listen-addr" from the [server] section;
// embedded-prefix flags resolve their prefix to a dotted section name.
package kongini

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/ini.v1"
)

// Loader parses r as an INI file and returns a resolver over it. Section and
// key names may be spelled with dashes as on the command line or in
// TitleUnderscore form.
func Loader(r io.Reader) (kong.Resolver, error) {
	f, err := ini.Load(r)
	if err != nil {
		return nil, fmt.Errorf("error loading ini file: %w", err)
	}

	return kong.ResolverFunc(func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		section, key := sectionAndKey(parent, flag)

		sec := lookupSection(f, section)
		if sec == nil {
			return nil, nil // not found
		}

		k := lookupKey(sec, key)
		if k == nil {
			return nil, nil // not found
		}

		return k.Value(), nil
	}), nil
}

var _ kong.ConfigurationLoader = Loader

// sectionAndKey maps a flag to its INI location. The dotted path is the
// command chain plus the flag name (embedded prefixes already appear inside
// the flag name); everything before the last dot names the section.
func sectionAndKey(parent *kong.Path, flag *kong.Flag) (string, string) {
	parts := []string{flag.Name}
	for n := parent.Node(); n != nil && n.Type != kong.ApplicationNode; n = n.Parent {
		parts = append([]string{n.Name}, parts...)
	}

	full := strings.Join(parts, ".")
	i := strings.LastIndexByte(full, '.')
	if i == -1 {
		return ini.DefaultSection, full
	}

	return full[:i], full[i+1:]
}

func lookupSection(f *ini.File, name string) *ini.Section {
	sec, err := f.GetSection(name)
	if err != nil {
		sec, err = f.GetSection(ini.TitleUnderscore(name))
	}
	if err != nil {
		return nil
	}

	return sec
}

func lookupKey(sec *ini.Section, name string) *ini.Key {
	k, err := sec.GetKey(name)
	if err != nil {
		k, err = sec.GetKey(ini.TitleUnderscore(name))
	}
	if err != nil {
		return nil
	}

	return k
}
