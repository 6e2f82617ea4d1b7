package graph

import "testing"

func TestReleaseAllKeepsWaiting(t *testing.T) {
	s := &Sampler{
		files:   map[int]string{},
		samples: map[int]*sample{},
		voices:  make([]samplerVoice, samplerVoices),
	}
	s.init("s", "sampler")
	ran := 0
	s.OnReady(func() { ran++ })
	if err := s.Trigger([]int{60}, 0.8, 0.5); err != nil {
		t.Fatalf("Trigger before ready: %v", err)
	}
	s.ReleaseAll()
	if ran != 0 {
		t.Fatalf("callback ran before the samples loaded")
	}
	s.load()
	if ran != 1 {
		t.Errorf("callback ran %d times after loading, want 1", ran)
	}
	if !s.Ready() {
		t.Errorf("sampler not ready after loading")
	}
}
