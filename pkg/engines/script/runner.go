package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// defaultTimeout bounds a single entrypoint's execution. A script that
// would run longer than this is almost certainly stuck, not slow.
const defaultTimeout = 10 * time.Minute

// Run loads and executes the entrypoint named in in.Entrypoint, resolved
// relative to moduleDir, and returns the resulting output envelope. It
// never returns an error itself; execution failures are carried in the
// envelope's Error field so ExecHidden can always produce output.json.
func Run(ctx context.Context, moduleDir string, in inputEnvelope) outputEnvelope {
	scriptPath := filepath.Join(moduleDir, in.Entrypoint)
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return outputEnvelope{Error: fmt.Sprintf("failed to read entrypoint %s: %v", in.Entrypoint, err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resultCh := make(chan outputEnvelope, 1)
	go func() {
		resultCh <- execute(string(source), in)
	}()

	select {
	case <-runCtx.Done():
		return outputEnvelope{Error: fmt.Sprintf("script execution timed out after %s", defaultTimeout)}
	case out := <-resultCh:
		return out
	}
}

// execute runs the script synchronously on the calling goroutine. The
// script communicates its result by assigning the globals made_changes,
// resulted_in_changes, result_summary, detailed_results and outputs;
// any it leaves unset default to their zero values, except
// resulted_in_changes, which defaults to made_changes.
func execute(source string, in inputEnvelope) outputEnvelope {
	thread := &starlark.Thread{
		Name: "deployer-script",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(os.Stderr, msg)
		},
	}

	predeclared := starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}

	variables, err := toStarlarkValue(in.Variables)
	if err != nil {
		return outputEnvelope{Error: fmt.Sprintf("failed to convert variables: %v", err)}
	}

	predeclared["module"] = starlark.String(in.Module)
	predeclared["account_id"] = starlark.String(in.AccountID)
	predeclared["region"] = starlark.String(in.Region)
	predeclared["command"] = starlark.String(in.Command)
	predeclared["action"] = starlark.String(in.Action)
	predeclared["variables"] = variables

	globals, err := starlark.ExecFile(thread, in.Entrypoint, source, predeclared)
	if err != nil {
		return outputEnvelope{Error: fmt.Sprintf("script execution failed: %v", err)}
	}

	return globalsToOutput(globals)
}

func globalsToOutput(globals starlark.StringDict) outputEnvelope {
	var out outputEnvelope

	if v, ok := globals["made_changes"].(starlark.Bool); ok {
		out.MadeChanges = bool(v)
	}
	if v, ok := globals["resulted_in_changes"].(starlark.Bool); ok {
		out.ResultedInChanges = bool(v)
	} else {
		out.ResultedInChanges = out.MadeChanges
	}
	if v, ok := globals["result_summary"].(starlark.String); ok {
		out.ResultSummary = string(v)
	}
	if v, ok := globals["detailed_results"].(starlark.String); ok {
		out.DetailedResults = string(v)
	}
	if v, ok := globals["outputs"]; ok {
		goVal, err := fromStarlarkValue(v)
		if err != nil {
			return outputEnvelope{Error: fmt.Sprintf("failed to convert outputs: %v", err)}
		}
		if m, ok := goVal.(map[string]interface{}); ok {
			out.Outputs = m
		} else {
			return outputEnvelope{Error: "outputs global must be a dict"}
		}
	}

	return out
}

// toStarlarkValue converts a Go value decoded from JSON into a Starlark
// value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back into a plain Go value
// suitable for JSON encoding.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// builtinRange implements the range() built-in function.
func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}

// builtinEnumerate implements the enumerate() built-in function.
func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64 = 0

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		tuple := starlark.Tuple{starlark.MakeInt64(i), x}
		list = append(list, tuple)
		i++
	}

	return starlark.NewList(list), nil
}

// builtinZip implements the zip() built-in function.
func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}
