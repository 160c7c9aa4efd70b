package binxml

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"github.com/wevtflow/wevtflow/pkg/testing/generators"
)

const testGUID = "b47cbe24-0497-4f9f-a826-8ecab13a8b9c"

func buildTemp(frag []byte, items ...generators.ItemSpec) []byte {
	return generators.BuildTEMP(generators.TempSpec{
		GUID:     testGUID,
		Fragment: frag,
		Items:    items,
	})
}

func TestRenderTemplate_Placeholders(t *testing.T) {
	frag := generators.Frag(
		generators.Element("EventData",
			generators.Element("Data", generators.Sub(0, TypeString)),
			generators.Element("Data", generators.Sub(1, TypeUint32)),
		),
	)
	temp := buildTemp(frag,
		generators.ItemSpec{InputType: TypeString, Name: "SubjectUserName"},
		generators.ItemSpec{InputType: TypeUint32, Name: "LogonType"},
	)

	xml, err := RenderTemplate(temp, nil, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	want := "<EventData><Data>{sub:0}</Data><Data>{sub:1}</Data></EventData>"
	if xml != want {
		t.Errorf("xml = %q, want %q", xml, want)
	}
}

func TestRenderTemplate_Values(t *testing.T) {
	frag := generators.Frag(
		generators.Element("EventData",
			generators.Element("Data", generators.Sub(0, TypeString)),
			generators.Element("Data", generators.Sub(1, TypeUint32)),
		),
	)
	temp := buildTemp(frag)

	values := []Value{StringValue("alice"), UintValue(4624)}
	xml, err := RenderTemplate(temp, values, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	want := "<EventData><Data>alice</Data><Data>4624</Data></EventData>"
	if xml != want {
		t.Errorf("xml = %q, want %q", xml, want)
	}
}

func TestRenderTemplate_OutOfRangeSlotKeepsPlaceholder(t *testing.T) {
	frag := generators.Frag(
		generators.Element("Data", generators.Sub(3, TypeString)),
	)
	temp := buildTemp(frag)

	xml, err := RenderTemplate(temp, []Value{StringValue("only-one")}, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if xml != "<Data>{sub:3}</Data>" {
		t.Errorf("xml = %q", xml)
	}
}

func TestRenderTemplate_OptionalSubNullOmitted(t *testing.T) {
	frag := generators.Frag(
		generators.Element("Data", generators.OptSub(0, TypeString)),
	)
	temp := buildTemp(frag)

	xml, err := RenderTemplate(temp, []Value{Null()}, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if xml != "<Data></Data>" {
		t.Errorf("xml = %q, want empty element content", xml)
	}
}

func TestRenderTemplate_Attributes(t *testing.T) {
	frag := generators.Frag(
		generators.ElementAttrs("Data",
			[]generators.Attr{{Name: "Name", Value: generators.InlineString("TargetUserName")}},
			generators.Sub(0, TypeString),
		),
	)
	temp := buildTemp(frag)

	xml, err := RenderTemplate(temp, []Value{StringValue("bob")}, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	want := `<Data Name="TargetUserName">bob</Data>`
	if xml != want {
		t.Errorf("xml = %q, want %q", xml, want)
	}
}

func TestRenderTemplate_Escaping(t *testing.T) {
	frag := generators.Frag(
		generators.ElementAttrs("Data",
			[]generators.Attr{{Name: "Name", Value: generators.Sub(0, TypeString)}},
			generators.Sub(1, TypeString),
		),
	)
	temp := buildTemp(frag)

	values := []Value{StringValue(`a"b`), StringValue("x<y>&z")}
	xml, err := RenderTemplate(temp, values, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if !strings.Contains(xml, `Name="a&quot;b"`) {
		t.Errorf("attribute not escaped: %q", xml)
	}
	if !strings.Contains(xml, "x&lt;y&gt;&amp;z") {
		t.Errorf("text not escaped: %q", xml)
	}
}

func TestRenderTemplate_SelfClosing(t *testing.T) {
	frag := generators.Frag(generators.Element("Empty"))
	temp := buildTemp(frag)

	xml, err := RenderTemplate(temp, nil, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if xml != "<Empty/>" {
		t.Errorf("xml = %q, want <Empty/>", xml)
	}
}

func TestRenderTemplate_InlineValue(t *testing.T) {
	frag := generators.Frag(
		generators.Element("Version", generators.InlineString("2")),
	)
	temp := buildTemp(frag)

	xml, err := RenderTemplate(temp, nil, charmap.Windows1252)
	if err != nil {
		t.Fatalf("RenderTemplate: %v", err)
	}
	if xml != "<Version>2</Version>" {
		t.Errorf("xml = %q", xml)
	}
}

func TestRenderTemplate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		temp []byte
	}{
		{"too short", []byte("TEMP")},
		{"bad signature", make([]byte, 64)},
		{"size out of range", func() []byte {
			temp := buildTemp(generators.Frag())
			temp[4] = 0xff
			temp[5] = 0xff
			temp[6] = 0xff
			temp[7] = 0xff
			return temp
		}()},
	}

	for _, tt := range tests {
		if _, err := RenderTemplate(tt.temp, nil, charmap.Windows1252); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
