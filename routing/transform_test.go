package routing

import "testing"

func TestTransformLinearScale(t *testing.T) {
	tr := Transform{
		Enabled: true,
		InMinEnabled: true, InMaxEnabled: true,
		OutMinEnabled: true, OutMaxEnabled: true,
		InMin: 0, InMax: 1, OutMin: 0, OutMax: 100,
	}
	if got := tr.Apply(0.25); got != 25 {
		t.Errorf("Apply(0.25) = %v, want 25", got)
	}
	if got := tr.Apply(1); got != 100 {
		t.Errorf("Apply(1) = %v, want 100", got)
	}
}

func TestTransformDegenerateSpanCollapsesToOutMin(t *testing.T) {
	tr := Transform{
		Enabled: true,
		InMinEnabled: true, InMaxEnabled: true,
		OutMinEnabled: true, OutMaxEnabled: true,
		InMin: 5, InMax: 5, OutMin: 10, OutMax: 20,
	}
	if got := tr.Apply(5); got != 10 {
		t.Errorf("Apply with zero input span = %v, want OutMin 10", got)
	}
}

func TestTransformPartialBoundsClip(t *testing.T) {
	tr := Transform{Enabled: true, OutMinEnabled: true, OutMax: 0, OutMin: 0}
	tr.OutMin = 0
	tr.OutMinEnabled = true
	if got := tr.Apply(-5); got != 0 {
		t.Errorf("Apply(-5) with OutMin=0 = %v, want 0", got)
	}
	if got := tr.Apply(5); got != 5 {
		t.Errorf("Apply(5) with OutMin=0 only = %v, want unchanged 5", got)
	}
}

func TestTransformDisabledIsIdentity(t *testing.T) {
	tr := Transform{}
	if got := tr.Apply(42); got != 42 {
		t.Errorf("disabled Apply(42) = %v, want 42", got)
	}
}
