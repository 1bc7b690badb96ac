package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DefaultStarlarkTimeout bounds a Starlark evaluation when no timeout is configured.
const DefaultStarlarkTimeout = 30 * time.Second

// StarlarkEvaluator executes Starlark BUILD files. Scripts declare targets
// by calling the target() builtin; configuration() builds an inline value.
type StarlarkEvaluator struct {
	timeout time.Duration
}

var _ Loader = (*StarlarkEvaluator)(nil)

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Format implements Loader.
func (se *StarlarkEvaluator) Format() string { return "starlark" }

// Load implements Loader.
func (se *StarlarkEvaluator) Load(ctx context.Context, filename string, data []byte) ([]map[string]interface{}, []ValidationError) {
	result, err := se.EvaluateFile(ctx, filename, data, nil)
	if err != nil {
		return nil, []ValidationError{starlarkError(filename, err)}
	}
	return result.Targets, nil
}

// Evaluate executes an inline script with the given input.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	return se.EvaluateFile(ctx, "BUILD.star", []byte(script), input)
}

// EvaluateFile executes src as filename. Input values are predeclared as
// globals. The evaluation is cancelled when ctx is done or the timeout expires.
func (se *StarlarkEvaluator) EvaluateFile(ctx context.Context, filename string, src []byte, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	result := &StarlarkResult{}
	thread := &starlark.Thread{
		Name:  filename,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	stop := context.AfterFunc(evalCtx, func() { thread.Cancel(evalCtx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		"struct":        starlarkstruct.Default,
		"target":        starlark.NewBuiltin("target", result.builtinTarget),
		"configuration": starlark.NewBuiltin("configuration", builtinConfiguration),
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	result.ExecutionTime = time.Since(startTime)
	if err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("starlark execution cancelled after %v: %w", result.ExecutionTime.Round(time.Millisecond), ctxErr)
		}
		result.Error = err.Error()
		return result, err
	}

	result.Output = make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		result.Output[name] = goVal
	}
	return result, nil
}

// builtinTarget records its keyword arguments as a raw target.
func (r *StarlarkResult) builtinTarget(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: takes keyword arguments only", b.Name())
	}
	target, err := kwargsToMap(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	r.Targets = append(r.Targets, target)
	return starlark.None, nil
}

// builtinConfiguration returns a dict of type plus the keyword arguments.
func builtinConfiguration(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var typ string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &typ); err != nil {
		return nil, err
	}
	dict := starlark.NewDict(len(kwargs) + 1)
	if err := dict.SetKey(starlark.String("type"), starlark.String(typ)); err != nil {
		return nil, err
	}
	for _, kv := range kwargs {
		if kv[0].(starlark.String) == "type" {
			return nil, fmt.Errorf("%s: type is given positionally", b.Name())
		}
		if err := dict.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func kwargsToMap(kwargs []starlark.Tuple) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(kwargs))
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		value, err := fromStarlarkValue(kv[1])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

// starlarkError locates err in filename: the position of a syntax or
// resolve error, or the innermost call frame of the file for an evaluation
// error.
func starlarkError(filename string, err error) ValidationError {
	ve := ValidationError{File: filename, Message: err.Error(), Severity: "error"}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		ve.Line = int(syntaxErr.Pos.Line)
		ve.Column = int(syntaxErr.Pos.Col)
		ve.Message = syntaxErr.Msg
		return ve
	}
	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		ve.Line = int(resolveErrs[0].Pos.Line)
		ve.Column = int(resolveErrs[0].Pos.Col)
		ve.Message = resolveErrs[0].Msg
		return ve
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		for _, frame := range evalErr.CallStack {
			if frame.Pos.Filename() == filename {
				ve.Line = int(frame.Pos.Line)
				ve.Column = int(frame.Pos.Col)
			}
		}
		ve.Message = evalErr.Msg
	}
	return ve
}

// toStarlarkValue converts a Go value to a Starlark value.
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
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
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

// fromStarlarkValue converts a Starlark value to a Go value. Lists and
// tuples both become []interface{}.
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
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
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

func fromStarlarkSequence(seq starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
