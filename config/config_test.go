package config

import (
	"testing"

	"github.com/latticerun/lattice/log"
)

func TestUnmarshalBasic(t *testing.T) {
	doc := []byte("workers:\n  - w1\n  - w2\nlog_level: debug\nprofile: true\n")
	rc, err := Unmarshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Workers) != 2 || rc.Workers[0] != "w1" || rc.Workers[1] != "w2" {
		t.Errorf("unexpected workers: %v", rc.Workers)
	}
	if !rc.Profile {
		t.Error("profile should be true")
	}
	if rc.Log == nil || !rc.Log.At(log.DebugLevel) {
		t.Error("log level should be debug")
	}
}

func TestUnmarshalDefaultsToInfo(t *testing.T) {
	rc, err := Unmarshal([]byte("workers:\n  - w1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !rc.Log.At(log.InfoLevel) || rc.Log.At(log.DebugLevel) {
		t.Error("an unset log_level should default to info")
	}
}

func TestUnmarshalRejectsUnknownLevel(t *testing.T) {
	if _, err := Unmarshal([]byte("log_level: verbose\n")); err == nil {
		t.Error("an unknown log level should be rejected")
	}
}

func TestUnmarshalOffLevelYieldsNilLogger(t *testing.T) {
	rc, err := Unmarshal([]byte("log_level: off\n"))
	if err != nil {
		t.Fatal(err)
	}
	if rc.Log != nil {
		t.Error("log_level: off should yield a nil Logger")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rc, err := Unmarshal([]byte("workers:\n  - w1\n  - w2\nprofile: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(rc, "info")
	if err != nil {
		t.Fatal(err)
	}
	rc2, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc2.Workers) != 2 || rc2.Workers[0] != "w1" {
		t.Errorf("round-tripped workers mismatch: %v", rc2.Workers)
	}
	if !rc2.Profile {
		t.Error("round-tripped profile flag mismatch")
	}
}
