package registry

import (
	"encoding/json"
	"testing"

	"github.com/rove-run/rove/internal/safety"
)

func TestRegister_LookupRoundTrip(t *testing.T) {
	r := New(Config{})
	if err := r.Register("read_file", "", safety.T0, BackendNative, "fs_reader", nil); err != nil {
		t.Fatal(err)
	}
	tool, ok := r.Lookup("read_file")
	if !ok {
		t.Fatal("expected read_file to be registered")
	}
	if tool.Tier != safety.T0 || tool.Backend != BackendNative || tool.TargetName != "fs_reader" {
		t.Errorf("unexpected tool fields: %+v", tool)
	}
}

func TestRegister_EmptyNameRejected(t *testing.T) {
	r := New(Config{})
	if err := r.Register("", "", safety.T0, BackendNative, "x", nil); err == nil {
		t.Error("expected an error registering a tool with an empty name")
	}
}

func TestRegister_InvalidSchemaRejected(t *testing.T) {
	r := New(Config{})
	err := r.Register("bad_schema_tool", "", safety.T0, BackendNative, "x", json.RawMessage(`{not json`))
	if err == nil {
		t.Error("expected an error compiling a malformed schema")
	}
}

func TestRegister_ValidSchemaCompiles(t *testing.T) {
	r := New(Config{})
	schema := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	if err := r.Register("read_file", "", safety.T0, BackendNative, "fs_reader", schema); err != nil {
		t.Fatalf("expected a valid schema to compile, got %v", err)
	}
}

func TestLookup_UnknownToolNotFound(t *testing.T) {
	r := New(Config{})
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Error("expected Lookup to report false for an unregistered tool")
	}
}

func TestNames_ReturnsSortedRegisteredTools(t *testing.T) {
	r := New(Config{})
	_ = r.Register("write_file", "", safety.T1, BackendNative, "fs_writer", nil)
	_ = r.Register("delete_file", "", safety.T2, BackendNative, "fs_deleter", nil)
	_ = r.Register("read_file", "", safety.T0, BackendNative, "fs_reader", nil)

	names := r.Names()
	want := []string{"delete_file", "read_file", "write_file"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, names[i], want[i])
		}
	}
}

func TestCatalog_ReturnsSortedToolsWithDescription(t *testing.T) {
	r := New(Config{})
	_ = r.Register("write_file", "writes a file to disk", safety.T1, BackendNative, "fs_writer", nil)
	_ = r.Register("read_file", "reads a file from disk", safety.T0, BackendNative, "fs_reader", nil)

	catalog := r.Catalog()
	if len(catalog) != 2 {
		t.Fatalf("len(Catalog()) = %d, want 2", len(catalog))
	}
	if catalog[0].Name != "read_file" || catalog[0].Description != "reads a file from disk" {
		t.Errorf("catalog[0] = %+v", catalog[0])
	}
	if catalog[1].Name != "write_file" || catalog[1].Description != "writes a file to disk" {
		t.Errorf("catalog[1] = %+v", catalog[1])
	}
}

func TestCanonicalizeArgs_SortsNestedKeys(t *testing.T) {
	raw := json.RawMessage(`{"z":1,"a":{"y":2,"b":3}}`)
	canon, err := CanonicalizeArgs(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"b":3,"y":2},"z":1}`
	if string(canon) != want {
		t.Errorf("got %s, want %s", canon, want)
	}
}

func TestCanonicalizeArgs_EmptyInputYieldsEmptyObject(t *testing.T) {
	canon, err := CanonicalizeArgs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(canon) != "{}" {
		t.Errorf("got %s, want {}", canon)
	}
}

func TestCanonicalizeArgs_InvalidJSONErrors(t *testing.T) {
	if _, err := CanonicalizeArgs(json.RawMessage(`{not json`)); err == nil {
		t.Error("expected an error canonicalizing malformed JSON")
	}
}
