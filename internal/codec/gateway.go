package codec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Defaults for gateway options.
const (
	DefaultEvalTimeout = 500 * time.Millisecond
	scriptPermissions  = 0o640
	decodeFunction     = "decodeUplink"
	channelsGlobal     = "channels"
	encodersGlobal     = "encoders"
)

// Logger is the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ProfileSource supplies device-specific codec scripts.
type ProfileSource interface {
	// FetchScript returns the codec script for a device. It returns an error
	// wrapping fs.ErrNotExist when the source has no script for the device.
	FetchScript(ctx context.Context, eui string) ([]byte, error)
}

// Options configures a Gateway.
type Options struct {
	// ScriptsDir holds materialised codec scripts.
	ScriptsDir string

	// DefaultScript is the file name used when no device script resolves.
	DefaultScript string

	// Source is optional. When nil, absent device scripts fall back to the
	// default immediately.
	Source ProfileSource

	// EvalTimeout bounds a single script evaluation.
	EvalTimeout time.Duration

	Logger Logger
}

// Gateway evaluates codec scripts. It holds no per-call state and may be
// used from any number of goroutines.
type Gateway struct {
	scriptsDir    string
	defaultScript string
	source        ProfileSource
	evalTimeout   time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a codec gateway.
func New(opts Options) *Gateway {
	timeout := opts.EvalTimeout
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}
	return &Gateway{
		scriptsDir:    opts.ScriptsDir,
		defaultScript: opts.DefaultScript,
		source:        opts.Source,
		evalTimeout:   timeout,
		logger:        opts.Logger,
	}
}

// DefaultScript returns the name of the fallback script.
func (g *Gateway) DefaultScript() string {
	return g.defaultScript
}

// SetLogger sets the logger.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

// Resolve returns the path of the script to run for a device.
//
// Parameters:
//   - eui: Device identifier, used to fetch a device script
//   - scriptName: Script file name assigned to the device
//
// Returns:
//   - string: Path of an existing script file
//   - error: ErrScriptNotFound if neither the device nor the default script exists
func (g *Gateway) Resolve(ctx context.Context, eui, scriptName string) (string, error) {
	if scriptName != "" {
		path := g.scriptPath(scriptName)
		if fileExists(path) {
			return path, nil
		}
		if g.source != nil && eui != "" && scriptName != g.defaultScript {
			err := g.materialise(ctx, eui, path)
			if err == nil {
				return path, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				g.logWarn("device script fetch failed, using default", "eui", eui, "script", scriptName, "error", err)
			}
		}
	}

	path := g.scriptPath(g.defaultScript)
	if fileExists(path) {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s (default %s)", ErrScriptNotFound, scriptName, g.defaultScript)
}

// materialise fetches a device script and writes it to path. A concurrent
// writer winning the race is not an error.
func (g *Gateway) materialise(ctx context.Context, eui, path string) error {
	script, err := g.source.FetchScript(ctx, eui)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, scriptPermissions)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if _, err := f.Write(script); err != nil {
		f.Close()       //nolint:errcheck // write error takes precedence
		os.Remove(path) //nolint:errcheck // best effort, partial file must not be reused
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	g.logInfo("device script materialised", "eui", eui, "path", path)
	return nil
}

// Decode runs the device's decoder over a raw payload.
//
// The script runs when the sequence is first ranged over and the result is
// reused by later iterations. Any failure yields an empty sequence and is
// logged.
func (g *Gateway) Decode(ctx context.Context, raw []byte, port int, eui, scriptName string) Elements {
	var (
		once  sync.Once
		elems []Element
	)
	return func(yield func(Element) bool) {
		once.Do(func() {
			var err error
			elems, err = g.DecodeNow(ctx, raw, port, eui, scriptName)
			if err != nil {
				g.logWarn("decode failed", "eui", eui, "script", scriptName, "port", port, "error", err)
				elems = nil
			}
		})
		for _, e := range elems {
			if !yield(e) {
				return
			}
		}
	}
}

// DecodeNow runs the device's decoder immediately and reports failures.
func (g *Gateway) DecodeNow(ctx context.Context, raw []byte, port int, eui, scriptName string) ([]Element, error) {
	path, err := g.Resolve(ctx, eui, scriptName)
	if err != nil {
		return nil, err
	}

	var result any
	err = g.run(ctx, path, func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(vm.Get(decodeFunction))
		if !ok {
			return fmt.Errorf("%w: %s does not define %s", ErrScriptFailed, filepath.Base(path), decodeFunction)
		}
		bytes := make([]any, len(raw))
		for i, b := range raw {
			bytes[i] = int64(b)
		}
		input := vm.NewObject()
		if err := input.Set("bytes", vm.NewArray(bytes...)); err != nil {
			return err
		}
		if err := input.Set("fPort", port); err != nil {
			return err
		}
		v, err := fn(goja.Undefined(), input)
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	})
	if err != nil {
		return nil, err
	}

	obj, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrDecode, decodeFunction, result)
	}
	data, ok := obj["data"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: result has no data list", ErrDecode)
	}
	return ParseElements(data)
}

// Encode frames a value for a device channel.
//
// The type tag comes from the script's channels dictionary, or typeHint when
// the channel is not listed there. A negative typeHint means no hint.
//
// Returns:
//   - Frame: Channel, type and encoded value bytes
//   - error: wrapping ErrEncode, ErrScriptFailed or ErrScriptNotFound
func (g *Gateway) Encode(ctx context.Context, channel int, value float64, eui, scriptName string, typeHint int) (Frame, error) {
	if channel < 0 || channel > 255 {
		return Frame{}, fmt.Errorf("%w: channel %d out of range", ErrEncode, channel)
	}
	path, err := g.Resolve(ctx, eui, scriptName)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Channel: channel, Type: typeHint}
	err = g.run(ctx, path, func(vm *goja.Runtime) error {
		if t, ok := lookupInt(vm, channelsGlobal, strconv.Itoa(channel)); ok {
			frame.Type = t
		}
		if frame.Type < 0 || frame.Type > 255 {
			return fmt.Errorf("%w: no type for channel %d", ErrEncode, channel)
		}

		encoders := vm.Get(encodersGlobal)
		if encoders == nil || goja.IsUndefined(encoders) || goja.IsNull(encoders) {
			return fmt.Errorf("%w: script defines no %s", ErrEncode, encodersGlobal)
		}
		fn, ok := goja.AssertFunction(encoders.ToObject(vm).Get(strconv.Itoa(frame.Type)))
		if !ok {
			return fmt.Errorf("%w: no encoder for type %d", ErrEncode, frame.Type)
		}
		v, err := fn(goja.Undefined(), vm.ToValue(value))
		if err != nil {
			return err
		}
		frame.Payload, err = toBytes(v.Export())
		return err
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// run evaluates a script in a fresh runtime and calls fn against it, under
// the evaluation timeout and ctx.
func (g *Gateway) run(ctx context.Context, path string, fn func(vm *goja.Runtime) error) error {
	src, err := os.ReadFile(path) //nolint:gosec // path resolved inside the scripts directory
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScriptNotFound, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vm := goja.New()
	timer := time.AfterFunc(g.evalTimeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunScript(filepath.Base(path), string(src)); err != nil {
		return scriptError(err)
	}
	if err := fn(vm); err != nil {
		return scriptError(err)
	}
	return nil
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%w: %w", ErrScriptFailed, cause)
		}
	}
	if errors.Is(err, ErrEncode) || errors.Is(err, ErrDecode) || errors.Is(err, ErrScriptFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrScriptFailed, err)
}

func lookupInt(vm *goja.Runtime, global, key string) (int, bool) {
	v := vm.Get(global)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	entry := v.ToObject(vm).Get(key)
	if entry == nil || goja.IsUndefined(entry) || goja.IsNull(entry) {
		return 0, false
	}
	return toInt(entry.Export())
}

func toBytes(v any) ([]byte, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: encoder returned %T", ErrEncode, v)
	}
	out := make([]byte, len(list))
	for i, item := range list {
		n, ok := toInt(item)
		if !ok || n < 0 || n > 255 {
			return nil, fmt.Errorf("%w: encoder byte %d is %v", ErrEncode, i, item)
		}
		out[i] = byte(n)
	}
	return out, nil
}

func (g *Gateway) scriptPath(name string) string {
	return filepath.Join(g.scriptsDir, filepath.Base(name))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (g *Gateway) logInfo(msg string, args ...any) {
	g.loggerMu.RLock()
	logger := g.logger
	g.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	g.loggerMu.RLock()
	logger := g.logger
	g.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}
