package vev

// Hand-rolled easyjson codec for the two envelope types. Frames are the hot
// path -- every message a client sends or receives goes through here, so we
// skip reflection on the envelope and only fall back to encoding/json for
// the typed Data payloads.

import (
	"encoding/json"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

func (f *InFrame) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "type":
			f.Type = in.String()
		case "data":
			f.Data = json.RawMessage(in.Raw())
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func (f *InFrame) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	f.UnmarshalEasyJSON(&l)
	return l.Error()
}

func (f OutFrame) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	out.RawString(`"type":`)
	out.String(f.Type)
	out.RawString(`,"Meta":{"FromSource":`)
	out.String(f.Meta.FromSource)
	out.RawString(`,"TimeCreated":`)
	out.Raw(f.Meta.TimeCreated.MarshalJSON())
	out.RawString(`},"data":`)
	if f.Data == nil {
		out.RawString("null")
	} else if raw, ok := f.Data.(json.RawMessage); ok {
		out.Raw(raw, nil)
	} else {
		out.Raw(json.Marshal(f.Data))
	}
	out.RawByte('}')
}

func (f OutFrame) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	f.MarshalEasyJSON(&w)
	return w.BuildBytes()
}
