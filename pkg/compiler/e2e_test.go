package compiler_test

import (
	"bytes"
	"strings"
	"testing"

	"oscc/pkg/compiler"
	"oscc/pkg/host"
	"oscc/pkg/machine"
)

// runCode compiles and executes a source unit against the standard host
// table and returns the program's exit code and console output.
func runCode(t *testing.T, source string) (int32, string) {
	t.Helper()

	var console bytes.Buffer
	table := host.NewTable(host.Options{Console: &console})

	prog, err := compiler.Compile(source, compiler.Config{Bindings: table.Bindings()})
	if err != nil {
		t.Fatalf("compilation failed: %v", err)
	}

	m := machine.New(16 * 1024 * 1024)
	if err := m.Load(prog.Code, prog.CodeBase, prog.Data, prog.DataBase, prog.Entry); err != nil {
		t.Fatalf("loading failed: %v", err)
	}
	table.Attach(m)

	if err := m.Run(50_000_000); err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	return m.ExitCode, console.String()
}

// compileErr compiles a source unit expected to fail and returns the error
// message.
func compileErr(t *testing.T, source string) string {
	t.Helper()
	table := host.NewTable(host.Options{})
	_, err := compiler.Compile(source, compiler.Config{Bindings: table.Bindings()})
	if err == nil {
		t.Fatalf("compilation unexpectedly succeeded")
	}
	return err.Error()
}

func TestReturnConstantExpression(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    return 2 + 3 * 4;
}
`)
	if code != 14 {
		t.Errorf("expected exit code 14, got %d", code)
	}
}

func TestArithmeticOperators(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want int32
	}{
		{"division", "17 / 5", 3},
		{"modulo", "17 % 5", 2},
		{"negative division", "-7 / 2", -3},
		{"negative modulo", "-7 % 2", -1},
		{"subtraction", "3 - 10", -7},
		{"shift left", "1 << 10", 1024},
		{"shift right", "-16 >> 2", -4},
		{"bitwise and", "0xFF & 0x0F", 15},
		{"bitwise or", "0xF0 | 0x0F", 255},
		{"bitwise xor", "0xFF ^ 0x0F", 240},
		{"complement", "~0", -1},
		{"unary minus", "-(2 + 3)", -5},
		{"mixed precedence", "2 + 3 * 4 - 10 / 2", 9},
		{"parentheses", "(2 + 3) * 4", 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := runCode(t, "int main() { return "+tt.expr+"; }")
			if code != tt.want {
				t.Errorf("%s: expected %d, got %d", tt.expr, tt.want, code)
			}
		})
	}
}

func TestComparisonOperators(t *testing.T) {
	tests := []struct {
		expr string
		want int32
	}{
		{"3 < 5", 1},
		{"5 < 3", 0},
		{"-1 < 1", 1},
		{"3 <= 3", 1},
		{"4 <= 3", 0},
		{"5 > 3", 1},
		{"3 > 5", 0},
		{"3 >= 3", 1},
		{"2 >= 3", 0},
		{"3 == 3", 1},
		{"3 == 4", 0},
		{"3 != 4", 1},
		{"3 != 3", 0},
	}
	for _, tt := range tests {
		code, _ := runCode(t, "int main() { return "+tt.expr+"; }")
		if code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.expr, tt.want, code)
		}
	}
}

func TestRecursion(t *testing.T) {
	code, _ := runCode(t, `
int fib(int n) {
    if (n == 0) { return 0; }
    if (n == 1) { return 1; }
    return fib(n - 1) + fib(n - 2);
}

int main() {
    return fib(6);
}
`)
	if code != 8 {
		t.Errorf("expected fib(6) == 8, got %d", code)
	}
}

func TestForwardReference(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    return helper(20) + 2;
}

int helper(int x) {
    return x * 2;
}
`)
	if code != 42 {
		t.Errorf("expected 42, got %d", code)
	}
}

func TestArgumentOrder(t *testing.T) {
	code, _ := runCode(t, `
int sub3(int a, int b, int c) {
    return a - b - c;
}

int main() {
    return sub3(100, 30, 7);
}
`)
	if code != 63 {
		t.Errorf("expected 63, got %d", code)
	}
}

func TestWhileLoop(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int i;
    int sum;
    i = 1;
    sum = 0;
    while (i <= 10) {
        sum = sum + i;
        i = i + 1;
    }
    return sum;
}
`)
	if code != 55 {
		t.Errorf("expected 55, got %d", code)
	}
}

func TestForLoopWithContinue(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int i;
    int sum;
    sum = 0;
    for (i = 0; i < 10; i++) {
        if (i % 2 == 0) {
            continue;
        }
        sum = sum + i;
    }
    return sum;
}
`)
	if code != 25 {
		t.Errorf("expected 25, got %d", code)
	}
}

func TestForLoopDeclaration(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int sum;
    sum = 0;
    for (int i = 1; i <= 4; i++) {
        sum = sum + i;
    }
    return sum;
}
`)
	if code != 10 {
		t.Errorf("expected 10, got %d", code)
	}
}

func TestDoWhileRunsOnce(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int n;
    n = 0;
    do {
        n = n + 1;
    } while (0);
    return n;
}
`)
	if code != 1 {
		t.Errorf("expected 1, got %d", code)
	}
}

func TestDoWhileContinue(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int i;
    int n;
    i = 0;
    n = 0;
    do {
        i = i + 1;
        if (i == 2) {
            continue;
        }
        n = n + i;
    } while (i < 4);
    return n;
}
`)
	if code != 8 {
		t.Errorf("expected 1+3+4 == 8, got %d", code)
	}
}

func TestBreakLeavesInnermostLoop(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int i;
    int j;
    int n;
    n = 0;
    for (i = 0; i < 3; i++) {
        for (j = 0; j < 100; j++) {
            if (j == 2) {
                break;
            }
            n = n + 1;
        }
    }
    return n;
}
`)
	if code != 6 {
		t.Errorf("expected 6, got %d", code)
	}
}

func TestNestedCalls(t *testing.T) {
	code, _ := runCode(t, `
int double(int x) {
    return x * 2;
}

int inc(int x) {
    return x + 1;
}

int main() {
    return double(inc(double(5)));
}
`)
	if code != 22 {
		t.Errorf("expected 22, got %d", code)
	}
}

func TestGlobalVariables(t *testing.T) {
	code, _ := runCode(t, `
int counter = 5;
int uninitialized;

int bump() {
    counter = counter + 10;
    return counter;
}

int main() {
    bump();
    bump();
    return counter + uninitialized;
}
`)
	if code != 25 {
		t.Errorf("expected 25, got %d", code)
	}
}

func TestShadowing(t *testing.T) {
	code, _ := runCode(t, `
int x = 100;

int main() {
    int x;
    x = 1;
    {
        int x;
        x = 2;
    }
    return x;
}
`)
	if code != 1 {
		t.Errorf("expected inner block not to clobber outer local, got %d", code)
	}
}

func TestCharIsUnsignedByte(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    char c;
    c = 255;
    return c;
}
`)
	if code != 255 {
		t.Errorf("expected char load to zero-extend 0xFF to 255, got %d", code)
	}
}

func TestCharTruncatesOnStore(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    char c;
    c = 0x1FF;
    return c;
}
`)
	if code != 255 {
		t.Errorf("expected store to keep only the low byte, got %d", code)
	}
}

func TestCharLiterals(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    return 'A' + '\n';
}
`)
	if code != 75 {
		t.Errorf("expected 'A' + '\\n' == 75, got %d", code)
	}
}

func TestVoidFunction(t *testing.T) {
	code, _ := runCode(t, `
int g;

void set(int v) {
    g = v;
    return;
}

int main() {
    set(42);
    return g;
}
`)
	if code != 42 {
		t.Errorf("expected 42, got %d", code)
	}
}

func TestPrototypeThenDefinition(t *testing.T) {
	code, _ := runCode(t, `
int twice(int x);

int main() {
    return twice(21);
}

int twice(int x) {
    return x * 2;
}
`)
	if code != 42 {
		t.Errorf("expected 42, got %d", code)
	}
}

func TestConsoleOutput(t *testing.T) {
	_, out := runCode(t, `
int main() {
    puts("hello");
    print("%d-%s-%c", 42, "ok", 'x');
    return 0;
}
`)
	want := "hello\n42-ok-x"
	if out != want {
		t.Errorf("expected console output %q, got %q", want, out)
	}
}

func TestStringDeduplication(t *testing.T) {
	// both literals must resolve to the same data address
	code, _ := runCode(t, `
int main() {
    char *a;
    char *b;
    a = "shared";
    b = "shared";
    return a == b;
}
`)
	if code != 1 {
		t.Errorf("expected identical literals to share one address")
	}
}

func TestHostStringFunctions(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    char buf[32];
    strcpy(buf, "ab");
    strcat(buf, "cd");
    if (strcmp(buf, "abcd") != 0) { return 1; }
    if (strlen(buf) != 4) { return 2; }
    if (strstr(buf, "cd") == 0) { return 3; }
    return 0;
}
`)
	if code != 0 {
		t.Errorf("string helper check %d failed", code)
	}
}

func TestHeapAllocation(t *testing.T) {
	code, _ := runCode(t, `
int main() {
    int *p;
    p = alloc(16);
    if (p == 0) { return 1; }
    p[0] = 40;
    p[1] = 2;
    free(p);
    return p[0] + p[1];
}
`)
	if code != 42 {
		t.Errorf("expected 42, got %d", code)
	}
}

func TestExitBinding(t *testing.T) {
	code, out := runCode(t, `
int main() {
    puts("before");
    exit(7);
    puts("after");
    return 0;
}
`)
	if code != 7 {
		t.Errorf("expected exit code 7, got %d", code)
	}
	if strings.Contains(out, "after") {
		t.Errorf("exit did not stop the program: %q", out)
	}
}
