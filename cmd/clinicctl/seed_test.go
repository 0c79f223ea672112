package main

import (
	"strings"
	"testing"
)

func TestSeedCatalog(t *testing.T) {
	emails := make(map[string]bool)
	for _, d := range seedDoctors {
		if emails[d.Email] {
			t.Errorf("duplicate doctor email %s", d.Email)
		}
		emails[d.Email] = true
		if !strings.HasPrefix(d.Name, "Dr. ") || d.Specialty == "" {
			t.Errorf("incomplete doctor %+v", d)
		}
	}
	if emails[adminEmail] {
		t.Error("admin email collides with a doctor")
	}

	prev := 0
	for _, st := range seedTypes {
		if st.Duration <= prev {
			t.Errorf("appointment types should be ordered by duration, %s has %d", st.Name, st.Duration)
		}
		prev = st.Duration
	}
}

func TestPatientEmail(t *testing.T) {
	tests := []struct {
		name string
		i    int
		want string
	}{
		{"Jane Doe", 0, "jane.doe.0@students.unihealth.com"},
		{"  Mary  Ann Smith ", 12, "mary.ann.smith.12@students.unihealth.com"},
	}
	for _, tt := range tests {
		if got := patientEmail(tt.name, tt.i); got != tt.want {
			t.Errorf("patientEmail(%q, %d) = %q, want %q", tt.name, tt.i, got, tt.want)
		}
	}
}
