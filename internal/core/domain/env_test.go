package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"API_KEY", false},
		{"_private", false},
		{"a1", false},
		{"1ABC", true},
		{"WITH-DASH", true},
		{"", true},
		{"HAS SPACE", true},
		{"dotted.name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEnvName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidEnvName", tt.name, err)
			}
		})
	}
}

func TestEnv_Validate(t *testing.T) {
	if err := (Env{"A": "1", "B_2": ""}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Env{"A": "1", "9X": "2"}).Validate(); !errors.Is(err, ErrInvalidEnvName) {
		t.Errorf("Validate() error = %v, want ErrInvalidEnvName", err)
	}
}

func TestEnv_Names(t *testing.T) {
	env := Env{"b": "1", "B": "2", "a": "3", "_": "4"}
	want := []string{"B", "_", "a", "b"}
	if got := env.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestEnv_CloneAndEqual(t *testing.T) {
	env := Env{"A": "1"}
	clone := env.Clone()
	if !env.Equal(clone) {
		t.Fatal("clone should equal original")
	}
	clone["A"] = "2"
	if env["A"] != "1" {
		t.Error("Clone() should not share storage")
	}
	if env.Equal(clone) {
		t.Error("Equal() should detect changed value")
	}
	if env.Equal(Env{"A": "1", "B": ""}) {
		t.Error("Equal() should detect extra key")
	}
}
