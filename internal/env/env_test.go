package env

import (
	"reflect"
	"testing"
	"time"
)

func TestStringFallsBackToDefault(t *testing.T) {
	if got := String("EXECUTOR_BUILDER_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("EXECUTOR_BUILDER_TEST_STRING", "")
	if got := String("EXECUTOR_BUILDER_TEST_STRING", "fallback"); got != "" {
		t.Fatalf("set but empty variable must win over default, got %q", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("EXECUTOR_BUILDER_TEST_LIST", " kafka-1:9092, ,kafka-2:9092 ")

	got := List("EXECUTOR_BUILDER_TEST_LIST", nil)
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected list: got %q want %q", got, want)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("EXECUTOR_BUILDER_TEST_DURATION", "90s")
	got, err := Duration("EXECUTOR_BUILDER_TEST_DURATION", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("unexpected duration %v, %v", got, err)
	}

	t.Setenv("EXECUTOR_BUILDER_TEST_DURATION", "soon")
	if _, err := Duration("EXECUTOR_BUILDER_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("EXECUTOR_BUILDER_TEST_BOOL", "true")
	if got, err := Bool("EXECUTOR_BUILDER_TEST_BOOL", false); err != nil || !got {
		t.Fatalf("unexpected bool %v, %v", got, err)
	}

	t.Setenv("EXECUTOR_BUILDER_TEST_INT", "x")
	if _, err := Int("EXECUTOR_BUILDER_TEST_INT", 1); err == nil {
		t.Fatalf("expected parse error")
	}
}
