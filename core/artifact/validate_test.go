package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/cyqddx/shuyuan/core/fault"
)

func TestValidatePayloadCanonicalizes(t *testing.T) {
	spaced := []byte("{ \"b\" : 2 ,\n\t\"a\" : 1 }")
	compact := []byte(`{"b":2,"a":1}`)

	a, err := ValidatePayload(spaced, 0)
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	b, err := ValidatePayload(compact, 0)
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("equivalent documents canonicalize differently: %s vs %s", a, b)
	}
	if !json.Valid(a) {
		t.Fatalf("canonical form is not valid JSON: %s", a)
	}
}

func TestValidatePayloadPreservesNumbers(t *testing.T) {
	in := []byte(`{"n":12345678901234567890,"f":0.1}`)
	out, err := ValidatePayload(in, 0)
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	if !strings.Contains(string(out), "12345678901234567890") {
		t.Fatalf("large integer mangled: %s", out)
	}
	if !strings.Contains(string(out), "0.1") {
		t.Fatalf("decimal mangled: %s", out)
	}
}

func TestValidatePayloadRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("   "),
		[]byte("{"),
		[]byte(`{"a":}`),
		[]byte(`{"a":1} trailing`),
		[]byte(`{"a":1}{"b":2}`),
	}
	for _, raw := range cases {
		if _, err := ValidatePayload(raw, 0); !fault.Is(err, fault.KindInvalidFormat) {
			t.Fatalf("%q: got %v, want InvalidFormat", raw, err)
		}
	}
}

func TestValidatePayloadSizeLimit(t *testing.T) {
	raw := []byte(`{"pad":"` + strings.Repeat("x", 100) + `"}`)
	if _, err := ValidatePayload(raw, 50); !fault.Is(err, fault.KindFileTooLarge) {
		t.Fatalf("got %v, want FileTooLarge", err)
	}
	if _, err := ValidatePayload(raw, int64(len(raw))); err != nil {
		t.Fatalf("payload at the limit rejected: %v", err)
	}
}

func TestValidatePayloadDepthBound(t *testing.T) {
	nested := strings.Repeat(`{"a":`, maxDepth+1) + "1" + strings.Repeat("}", maxDepth+1)
	if _, err := ValidatePayload([]byte(nested), 0); !fault.Is(err, fault.KindTooDeep) {
		t.Fatalf("depth %d: got %v, want TooDeep", maxDepth+1, err)
	}

	ok := strings.Repeat(`{"a":`, maxDepth) + "1" + strings.Repeat("}", maxDepth)
	if _, err := ValidatePayload([]byte(ok), 0); err != nil {
		t.Fatalf("depth %d rejected: %v", maxDepth, err)
	}

	deepArray := strings.Repeat("[", maxDepth+1) + strings.Repeat("]", maxDepth+1)
	if _, err := ValidatePayload([]byte(deepArray), 0); !fault.Is(err, fault.KindTooDeep) {
		t.Fatalf("deep array: got %v, want TooDeep", err)
	}
}

func TestValidatePayloadFieldBounds(t *testing.T) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i := 0; i <= maxObjectFields; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `"k%04d":1`, i)
	}
	sb.WriteByte('}')
	if _, err := ValidatePayload([]byte(sb.String()), 0); !fault.Is(err, fault.KindTooManyFields) {
		t.Fatalf("wide object: got %v, want TooManyFields", err)
	}

	wideArray := "[" + strings.TrimSuffix(strings.Repeat("0,", maxArrayLength+1), ",") + "]"
	if _, err := ValidatePayload([]byte(wideArray), 0); !fault.Is(err, fault.KindTooManyFields) {
		t.Fatalf("wide array: got %v, want TooManyFields", err)
	}
}

func TestValidatePayloadScalars(t *testing.T) {
	for _, raw := range []string{`"text"`, "42", "true", "null", "[1,2,3]"} {
		if _, err := ValidatePayload([]byte(raw), 0); err != nil {
			t.Fatalf("%q rejected: %v", raw, err)
		}
	}
}
