package input

import "testing"

func TestStateApplyAndAmount(t *testing.T) {
	s := NewState()
	if got := s.Amount(MoveUp); got != 0 {
		t.Fatalf("unset amount = %v", got)
	}
	s.Apply([]Event{{ID: MoveUp, State: Pressed}, {ID: MaxEvent, State: Pressed}}, map[EventID]float32{MoveLeft: 0.5})
	if got := s.Amount(MoveUp); got != 1 {
		t.Fatalf("pressed amount = %v", got)
	}
	if got := s.Amount(MoveLeft); got != 0.5 {
		t.Fatalf("axis amount = %v", got)
	}
	s.Apply([]Event{{ID: MoveUp, State: Released}}, nil)
	if got := s.Amount(MoveUp); got != 0 {
		t.Fatalf("released amount = %v", got)
	}
	if s.Fire {
		t.Fatalf("fire set without shoot")
	}
	s.Apply([]Event{{ID: Shoot, State: Released}}, nil)
	if !s.Fire {
		t.Fatalf("fire not set after shoot release")
	}
}

func TestValidity(t *testing.T) {
	if MaxEvent.Valid() {
		t.Fatalf("MaxEvent must be invalid")
	}
	if !MaxState.Valid() {
		t.Fatalf("MaxState is a valid sentinel")
	}
	if EventState(3).Valid() {
		t.Fatalf("state 3 must be invalid")
	}
}
