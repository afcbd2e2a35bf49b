// Package pluginapi defines the contract between the warden host and plugin
// modules. A plugin is a Go plugin (.so) exporting two symbols:
//
//	var WardenPlugin  your.Type   // implements pluginapi.Plugin
//	var WardenAPIVersion = pluginapi.APIVersion
//
// The host refuses modules whose API version does not match its own, so a
// plugin built against an older contract fails at load time instead of
// misbehaving at dispatch time.
package pluginapi

import (
	"context"

	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/hook"
	"github.com/orbisys/warden/hostctx"
)

// APIVersion is the host's plugin contract version. Bump on any breaking
// change to the Plugin interface or the init handshake.
const APIVersion = 1

// Exported symbol names the loader resolves in a plugin module.
const (
	SymbolPlugin     = "WardenPlugin"
	SymbolAPIVersion = "WardenAPIVersion"
)

// Plugin is the interface every warden plugin implements.
type Plugin interface {
	// Name returns the unique plugin name used for registration.
	Name() string
	// Version returns the plugin's own version string.
	Version() string
	// Author returns the plugin author.
	Author() string
	// Description returns a human-readable summary.
	Description() string

	// Limits declares the resource ceilings the plugin wants. The host
	// clamps them to its configured maximums before enforcement.
	Limits() governor.ResourceLimits

	// Init is called once after the module is loaded and verified. The
	// plugin reads shared services from hctx and attaches its handlers to
	// hooks. Returning an error aborts the load.
	Init(ctx context.Context, hctx *hostctx.Context, hooks *hook.Registry) error

	// Shutdown is called during unload after the plugin's hook handlers
	// have drained. The context carries the grace period.
	Shutdown(ctx context.Context) error
}

// Base provides no-op metadata defaults a plugin can embed and override.
type Base struct {
	PluginName        string
	PluginVersion     string
	PluginAuthor      string
	PluginDescription string
}

func (b *Base) Name() string        { return b.PluginName }
func (b *Base) Version() string     { return b.PluginVersion }
func (b *Base) Author() string      { return b.PluginAuthor }
func (b *Base) Description() string { return b.PluginDescription }

// Limits defaults to the host's standard budget.
func (b *Base) Limits() governor.ResourceLimits { return governor.Default() }

// Shutdown defaults to a no-op.
func (b *Base) Shutdown(context.Context) error { return nil }
