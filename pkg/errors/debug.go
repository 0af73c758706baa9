package errors

import "errors"

// DumpInfo summarizes an error chain for structured logging.
type DumpInfo struct {
	TopMessage string
	Code       Code
	Chain      []string
}

// Dump walks the error chain and collects each layer's message.
func Dump(err error) DumpInfo {
	info := DumpInfo{}
	if err == nil {
		return info
	}
	info.TopMessage = err.Error()
	if typed := As(err); typed != nil {
		info.Code = typed.Code()
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		info.Chain = append(info.Chain, cur.Error())
	}
	return info
}
