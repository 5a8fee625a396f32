package tool

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/gatherlabs/gather/pkg/errors"
)

func echoDescriptor() Descriptor {
	return Descriptor{
		Name:        "echo",
		Description: "Returns its message argument.",
		Params: []Param{
			{Name: "message", Type: "string", Required: true},
			{Name: "repeat", Type: "integer"},
		},
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(echoDescriptor(), func(_ context.Context, args map[string]any) (any, error) {
		return args["message"], nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "hi" {
		t.Errorf("expected 'hi', got %v", out)
	}
}

func TestRegisterRejectsMalformedDescriptor(t *testing.T) {
	reg := NewRegistry()
	cases := []Descriptor{
		{Name: ""},
		{Name: "x", Params: []Param{{Name: "", Type: "string"}}},
		{Name: "x", Params: []Param{{Name: "a", Type: "text"}}},
		{Name: "x", Params: []Param{{Name: "a", Type: "string"}, {Name: "a", Type: "string"}}},
	}
	for i, d := range cases {
		err := reg.Register(d, func(context.Context, map[string]any) (any, error) { return nil, nil })
		if !errors.HasCode(err, errors.CodeSchema) {
			t.Errorf("case %d: expected SCHEMA_ERROR, got %v", i, err)
		}
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	reg := NewRegistry()
	fn := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := reg.Register(echoDescriptor(), fn); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(echoDescriptor(), fn); !errors.HasCode(err, errors.CodeSchema) {
		t.Errorf("expected SCHEMA_ERROR on duplicate, got %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "missing", nil)
	if !errors.HasCode(err, errors.CodeUnknownTool) {
		t.Errorf("expected UNKNOWN_TOOL, got %v", err)
	}
}

func TestInvokeArgumentMismatch(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(echoDescriptor(), func(context.Context, map[string]any) (any, error) { return nil, nil })

	// Missing required argument.
	_, err := reg.Invoke(context.Background(), "echo", map[string]any{})
	if !errors.HasCode(err, errors.CodeArgumentMismatch) {
		t.Errorf("expected ARGUMENT_MISMATCH for missing arg, got %v", err)
	}

	// Wrong type.
	_, err = reg.Invoke(context.Background(), "echo", map[string]any{"message": 7})
	if !errors.HasCode(err, errors.CodeArgumentMismatch) {
		t.Errorf("expected ARGUMENT_MISMATCH for wrong type, got %v", err)
	}

	// Integer accepts whole JSON floats but not fractions.
	_, err = reg.Invoke(context.Background(), "echo", map[string]any{"message": "x", "repeat": 2.0})
	if err != nil {
		t.Errorf("whole float rejected: %v", err)
	}
	_, err = reg.Invoke(context.Background(), "echo", map[string]any{"message": "x", "repeat": 2.5})
	if !errors.HasCode(err, errors.CodeArgumentMismatch) {
		t.Errorf("expected ARGUMENT_MISMATCH for fractional integer, got %v", err)
	}
}

func TestInvokeWrapsExecutionError(t *testing.T) {
	reg := NewRegistry()
	boom := stderrors.New("boom")
	_ = reg.Register(Descriptor{Name: "fail"}, func(context.Context, map[string]any) (any, error) {
		return nil, boom
	})
	_, err := reg.Invoke(context.Background(), "fail", nil)
	if !errors.HasCode(err, errors.CodeToolFailure) {
		t.Fatalf("expected TOOL_FAILURE, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Error("expected cause to be preserved")
	}
}

func TestConcurrentInvoke(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(echoDescriptor(), func(_ context.Context, args map[string]any) (any, error) {
		return args["message"], nil
	})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": "x"}); err != nil {
				t.Errorf("concurrent invoke: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestDefinitionsOrderedByName(t *testing.T) {
	reg := NewRegistry()
	fn := func(context.Context, map[string]any) (any, error) { return nil, nil }
	_ = reg.Register(Descriptor{Name: "zeta"}, fn)
	_ = reg.Register(Descriptor{Name: "alpha"}, fn)
	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Errorf("definitions not sorted: %+v", defs)
	}
}
