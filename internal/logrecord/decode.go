package logrecord

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/valyala/fastjson"
)

// ErrDecode marks a payload that is not a JSON object in any accepted form.
const ErrDecode = errors.ConstError("undecodable record")

var parsers fastjson.ParserPool

// Decode accepts a raw JSON object or base64-wrapped JSON, as found in the
// historical log.
func Decode(payload []byte) (Raw, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if r, err := decodeJSON(trimmed); err == nil {
			return r, nil
		}
	}
	return DecodeBase64(trimmed)
}

// Unwrap returns the JSON object text of payload, removing a base64 wrapper
// when present. The result is what the log stores and what live batches
// wrap exactly once.
func Unwrap(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if _, err := decodeJSON(trimmed); err == nil {
			return trimmed, nil
		}
	}
	body, err := unbase64(trimmed)
	if err != nil {
		return nil, err
	}
	if _, err := decodeJSON(body); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

// DecodeBase64 accepts only base64-wrapped JSON, the live batch encoding.
func DecodeBase64(payload []byte) (Raw, error) {
	body, err := unbase64(bytes.TrimSpace(payload))
	if err != nil {
		return Raw{}, err
	}
	return decodeJSON(body)
}

func unbase64(b []byte) ([]byte, error) {
	buf := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(buf, b)
	if err != nil {
		n, err = base64.RawStdEncoding.Decode(buf, b)
		if err != nil {
			return nil, errors.Annotatef(ErrDecode, "base64: %v", err)
		}
	}
	return buf[:n], nil
}

func decodeJSON(b []byte) (Raw, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(b)
	if err != nil {
		return Raw{}, errors.Annotatef(ErrDecode, "json: %v", err)
	}
	obj, err := v.Object()
	if err != nil {
		return Raw{}, errors.Annotatef(ErrDecode, "json %s is not an object", v.Type())
	}

	r := Raw{Fields: make(map[string]json.RawMessage, obj.Len())}
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		name := string(key)
		r.Fields[name] = val.MarshalTo(nil)
		isNull := val.Type() == fastjson.TypeNull
		switch name {
		case FieldIdentifier:
			ids, err := identifiersFromValue(val)
			if err != nil && visitErr == nil {
				visitErr = err
			}
			r.Identifiers = ids
		case FieldTime:
			if !isNull {
				s := scalarText(val)
				r.Time = &s
			}
		case FieldTimestamp:
			if !isNull {
				s := scalarText(val)
				r.Timestamp = &s
			}
		case FieldStream:
			if !isNull {
				s := scalarText(val)
				r.Stream = &s
			}
		case FieldLog:
			if !isNull {
				r.Log = scalarText(val)
			}
		case FieldMessage:
			if !isNull {
				s := scalarText(val)
				r.Message = &s
			}
		}
	})
	if visitErr != nil {
		return Raw{}, visitErr
	}
	return r, nil
}
