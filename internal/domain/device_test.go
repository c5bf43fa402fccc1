package domain_test

import (
	"testing"

	"vera-home/internal/domain"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Category
		ok   bool
	}{
		{"switch", domain.CategorySwitch, true},
		{" Dimmer ", domain.CategoryDimmer, true},
		{"7", domain.CategoryLock, true},
		{"garage_door", domain.CategoryGarageDoor, true},
		{"1234", domain.CategoryUnknown, false},
		{"toaster", domain.CategoryUnknown, false},
	}

	for _, tt := range tests {
		got, ok := domain.ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q): got %v/%v, want %v/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCategoryString(t *testing.T) {
	if domain.CategorySceneController.String() != "scene_controller" {
		t.Errorf("got %s, want scene_controller", domain.CategorySceneController)
	}
	if domain.Category(1234).String() != "unknown" {
		t.Errorf("got %s, want unknown", domain.Category(1234))
	}
}
