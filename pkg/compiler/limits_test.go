package compiler_test

import (
	"strings"
	"testing"

	"oscc/pkg/compiler"
	"oscc/pkg/host"
)

func compileWith(t *testing.T, source string, cfg compiler.Config) error {
	t.Helper()
	table := host.NewTable(host.Options{})
	cfg.Bindings = table.Bindings()
	_, err := compiler.Compile(source, cfg)
	return err
}

func TestCodeLimitOverflow(t *testing.T) {
	err := compileWith(t, `
int main() {
    int i;
    int total;
    total = 0;
    for (i = 0; i < 10; i++) {
        total += i * i;
    }
    return total;
}
`, compiler.Config{CodeLimit: 16})
	if err == nil {
		t.Fatal("expected a code limit error")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDataLimitOverflow(t *testing.T) {
	err := compileWith(t, `
int big[100];

int main() {
    return big[0];
}
`, compiler.Config{DataLimit: 16})
	if err == nil {
		t.Fatal("expected a data limit error")
	}
	if !strings.Contains(err.Error(), "data segment exceeds") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSourceLengthCap(t *testing.T) {
	src := "int main() { return 0; }" + strings.Repeat("\n", compiler.MaxSourceLen)
	err := compileWith(t, src, compiler.Config{})
	if err == nil {
		t.Fatal("expected a source size error")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("unexpected error: %v", err)
	}
}

// Only the first error is reported; later problems on the same unit never
// replace it.
func TestFirstErrorWins(t *testing.T) {
	msg := compileErr(t, `
int main() {
    first = 1;
    second = 2;
    return 0;
}
`)
	if !strings.Contains(msg, "line 3") || !strings.Contains(msg, "first") {
		t.Errorf("expected the line 3 error about 'first', got %q", msg)
	}
	if strings.Contains(msg, "second") {
		t.Errorf("later error leaked into the report: %q", msg)
	}
}
