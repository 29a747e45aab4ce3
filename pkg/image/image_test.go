package image

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func sampleImage() *Image {
	return &Image{
		Entry:    0x00400000,
		CodeBase: 0x00400000,
		DataBase: 0x00600000,
		Code:     []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3},
		Data:     []byte("hello\x00"),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	img := sampleImage()
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Entry != img.Entry || got.CodeBase != img.CodeBase || got.DataBase != img.DataBase {
		t.Errorf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Code, img.Code) || !bytes.Equal(got.Data, img.Data) {
		t.Error("segment contents changed in the round trip")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	sampleImage().WriteTo(&buf)
	raw := buf.Bytes()
	raw[0] = 'X'
	if _, err := Read(bytes.NewReader(raw)); err == nil {
		t.Error("expected an error for corrupt magic")
	}
}

func TestReadRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	sampleImage().WriteTo(&buf)
	raw := buf.Bytes()
	raw[4] = 99
	_, err := Read(bytes.NewReader(raw))
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected a version error, got %v", err)
	}
}

func TestReadRejectsTruncatedSegments(t *testing.T) {
	var buf bytes.Buffer
	sampleImage().WriteTo(&buf)
	raw := buf.Bytes()
	if _, err := Read(bytes.NewReader(raw[:len(raw)-3])); err == nil {
		t.Error("expected an error for a truncated image")
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.ocx")
	img := sampleImage()
	if err := WriteFile(path, img); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(got.Code, img.Code) {
		t.Error("code segment changed on disk")
	}
}

func TestSymbolMapRoundTrip(t *testing.T) {
	sm := &SymbolMap{
		Functions: []FuncEntry{
			{Name: "main", Addr: 0x00400010},
			{Name: "helper", Addr: 0x00400040},
		},
		Lines: []LineEntry{
			{Line: 1, Addr: 0x00400010},
			{Line: 5, Addr: 0x00400040},
		},
	}
	data, err := sm.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalSymbols(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Functions) != 2 || got.Functions[1].Name != "helper" {
		t.Errorf("functions = %+v", got.Functions)
	}
	if len(got.Lines) != 2 || got.Lines[1].Line != 5 {
		t.Errorf("lines = %+v", got.Lines)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	sm := &SymbolMap{Functions: []FuncEntry{{Name: "main", Addr: 1}}}
	a, _ := sm.Marshal()
	b, _ := sm.Marshal()
	if !bytes.Equal(a, b) {
		t.Error("canonical encoding should be byte-stable")
	}
}

func TestFuncAt(t *testing.T) {
	sm := &SymbolMap{
		Functions: []FuncEntry{
			{Name: "main", Addr: 0x100},
			{Name: "helper", Addr: 0x200},
		},
	}
	tests := []struct {
		addr uint32
		want string
	}{
		{0x50, ""},
		{0x100, "main"},
		{0x1FF, "main"},
		{0x200, "helper"},
		{0xFFFF, "helper"},
	}
	for _, tt := range tests {
		if got := sm.FuncAt(tt.addr); got != tt.want {
			t.Errorf("FuncAt(%#x) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestSymbolsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.sym")
	sm := &SymbolMap{Functions: []FuncEntry{{Name: "main", Addr: 7}}}
	if err := WriteSymbolsFile(path, sm); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSymbolsFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got.Functions) != 1 || got.Functions[0].Addr != 7 {
		t.Errorf("functions = %+v", got.Functions)
	}
}
