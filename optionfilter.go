package coapkit

import (
	m "github.com/coapkit/coapkit/message"
)

// optionFilter is a bitset over option numbers the engine understands.
// Only critical options are consulted through it, but every built-in
// option is registered so hosts can extend the set uniformly.
type optionFilter struct {
	bits [65536 / 64]uint64
}

func (f *optionFilter) set(code m.OptionCode) {
	if int(code) >= len(f.bits)*64 {
		return
	}
	f.bits[code/64] |= 1 << (code % 64)
}

func (f *optionFilter) has(code m.OptionCode) bool {
	if int(code) >= len(f.bits)*64 {
		return false
	}
	return f.bits[code/64]&(1<<(code%64)) != 0
}

func defaultOptionFilter() *optionFilter {
	f := &optionFilter{}
	for _, code := range []m.OptionCode{
		m.OptionIfMatch,
		m.OptionURIHost,
		m.OptionEtag,
		m.OptionIfNoneMatch,
		m.OptionObserve,
		m.OptionURIPort,
		m.OptionLocationPath,
		m.OptionURIPath,
		m.OptionContentFormat,
		m.OptionMaxAge,
		m.OptionURIQuery,
		m.OptionHopLimit,
		m.OptionAccept,
		m.OptionLocationQuery,
		m.OptionBlock2,
		m.OptionBlock1,
		m.OptionSize2,
		m.OptionProxyURI,
		m.OptionProxyScheme,
		m.OptionSize1,
		m.OptionNoResponse,
	} {
		f.set(code)
	}
	return f
}
