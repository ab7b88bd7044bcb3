package logflags

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	transport, wire, debugger, terminal = false, false, false, false
	logOut = nil
}

func TestMakeFlaggableLogger_withFlagFalse(t *testing.T) {
	defer resetFlags()
	actual := makeFlaggableLogger(false, logrus.Fields{"foo": "bar"})
	if actual.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.ErrorLevel, actual.Logger.Level)
	}
	if len(actual.Data) != 1 || actual.Data["foo"] != "bar" {
		t.Fatalf("expected data to be {'foo':'bar'}; but was <%v>", actual.Data)
	}
}

func TestMakeFlaggableLogger_withFlagTrue(t *testing.T) {
	defer resetFlags()
	actual := makeFlaggableLogger(true, logrus.Fields{"foo": "bar"})
	if actual.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.DebugLevel, actual.Logger.Level)
	}
}

func TestMakeLogger_usingLogOut(t *testing.T) {
	defer resetFlags()
	out := &bufferWriter{}
	logOut = out

	actual := makeLogger(logrus.TraceLevel, logrus.Fields{"layer": "wire"})
	if actual.Logger.Out != logOut {
		t.Fatalf("expected out to be <%v>; but was <%v>", logOut, actual.Logger.Out)
	}
	if actual.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected formatter to be <%v>; but was <%v>", textFormatterInstance, actual.Logger.Formatter)
	}
	actual.Debugf("hello %d", 1)
	if s := out.String(); !strings.Contains(s, "layer=wire hello 1") {
		t.Fatalf("unexpected output %q", s)
	}
}

func TestSetup(t *testing.T) {
	defer resetFlags()
	if err := Setup(false, "wire", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected errLogstrWithoutLog, got %v", err)
	}
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Debugger() || Wire() || Transport() || Terminal() {
		t.Fatal("default log output should only enable the debugger layer")
	}
	resetFlags()
	if err := Setup(true, "transport, wire", ""); err != nil {
		t.Fatal(err)
	}
	if !Transport() || !Wire() || Debugger() {
		t.Fatal("expected transport and wire to be enabled")
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
