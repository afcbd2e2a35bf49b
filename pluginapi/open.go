package pluginapi

import (
	"fmt"
	plg "plugin"

	"github.com/orbisys/warden/ecode"
)

// Module is an opened in-process plugin. Go cannot unload a shared object,
// so Close only drops the reference; the module's code stays mapped until
// the host exits. Process-level isolation is what actually reclaims a
// plugin, which is why sandboxed mode runs modules out of process.
type Module struct {
	Path   string
	Plugin Plugin

	handle *plg.Plugin
}

// Open loads a plugin shared object, resolves the contract symbols and
// checks the API version. Every failure classifies as a load error.
func Open(path string) (*Module, error) {
	h, err := plg.Open(path)
	if err != nil {
		return nil, ecode.Load(path, err)
	}

	symVersion, err := h.Lookup(SymbolAPIVersion)
	if err != nil {
		return nil, ecode.Load(path, fmt.Errorf("symbol %s not exported: %v", SymbolAPIVersion, err))
	}
	if err := assertVersion(symVersion); err != nil {
		return nil, ecode.Load(path, err)
	}

	symPlugin, err := h.Lookup(SymbolPlugin)
	if err != nil {
		return nil, ecode.Load(path, fmt.Errorf("symbol %s not exported: %v", SymbolPlugin, err))
	}
	p, err := assertPlugin(symPlugin)
	if err != nil {
		return nil, ecode.Load(path, err)
	}
	if p.Name() == "" {
		return nil, ecode.Load(path, fmt.Errorf("plugin reports an empty name"))
	}

	return &Module{Path: path, Plugin: p, handle: h}, nil
}

// assertVersion checks the exported api-version symbol against the version
// this host was compiled for.
func assertVersion(sym plg.Symbol) error {
	version, ok := sym.(*int)
	if !ok {
		return fmt.Errorf("symbol %s is %T, want *int", SymbolAPIVersion, sym)
	}
	if *version != APIVersion {
		return fmt.Errorf("api version %d does not match host version %d", *version, APIVersion)
	}
	return nil
}

// assertPlugin accepts both export shapes: a variable of a concrete type
// implementing Plugin (Lookup returns a pointer to it) and a variable
// declared as the interface itself.
func assertPlugin(sym plg.Symbol) (Plugin, error) {
	if p, ok := sym.(Plugin); ok {
		return p, nil
	}
	if pp, ok := sym.(*Plugin); ok {
		if *pp == nil {
			return nil, fmt.Errorf("symbol %s is a nil plugin", SymbolPlugin)
		}
		return *pp, nil
	}
	return nil, fmt.Errorf("symbol %s is %T, does not implement the plugin interface", SymbolPlugin, sym)
}

// Close drops the module reference. See the type comment for why the
// underlying object stays mapped.
func (m *Module) Close() error {
	m.handle = nil
	m.Plugin = nil
	return nil
}
