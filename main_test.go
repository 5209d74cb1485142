package main

import (
	"testing"

	"hub/cmd"
)

func TestDefaultVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("expected default version dev, got %s", version)
	}
}

func TestSetVersion(t *testing.T) {
	cmd.SetVersion("1.2.3", "abc1234")
}
