package upscaler

import (
	"testing"

	"github.com/prism-rt/prism/engine/device"
)

func TestDisabledSessionIsUnavailable(t *testing.T) {
	dev := device.NewTraceDevice()
	n := NewNeural(dev, Config{Enabled: false, OutputWidth: 64, OutputHeight: 64})
	if n.Available() {
		t.Fatal("disabled session reports available")
	}
}

func TestEvaluateWithoutSessionPanics(t *testing.T) {
	dev := device.NewTraceDevice()
	n := NewNeural(dev, Config{Enabled: false, OutputWidth: 64, OutputHeight: 64})

	cb, err := dev.NewCommandBuffer("test")
	if err != nil {
		t.Fatalf("create command buffer: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Evaluate on an unavailable session did not panic")
		}
	}()
	n.Evaluate(cb, EvalDesc{OutputWidth: 64, OutputHeight: 64})
}

func TestEvaluateCoversOutputGrid(t *testing.T) {
	dev := device.NewTraceDevice()
	n := NewNeural(dev, Config{Enabled: true, OutputWidth: 64, OutputHeight: 48})
	if !n.Available() {
		t.Fatal("enabled session unavailable")
	}

	cb, err := dev.NewCommandBuffer("test")
	if err != nil {
		t.Fatalf("create command buffer: %v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	n.Evaluate(cb, EvalDesc{
		RenderWidth:  32,
		RenderHeight: 24,
		OutputWidth:  64,
		OutputHeight: 48,
	})
	if err := cb.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := dev.Queue().Submit([]device.CommandBuffer{cb}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var dispatched bool
	for _, op := range dev.Log() {
		if op.Kind == device.OpDispatch {
			dispatched = true
			if op.X != 4 || op.Y != 3 {
				t.Fatalf("dispatch grid = %dx%d, want 4x3", op.X, op.Y)
			}
		}
	}
	if !dispatched {
		t.Fatal("no dispatch recorded")
	}
}
