package mmu

// convertS2Attrs converts a stage-2 MemAttr[3:0] field into MAIR format.
// HCR_EL2.CD forces normal memory to non-cacheable.
func convertS2Attrs(hcr uint64, s2attrs uint64) uint8 {
	hi := uint8(s2attrs>>2) & 3
	lo := uint8(s2attrs) & 3
	var hiHint, loHint uint8

	if hi != 0 {
		if hcr&HCRCD != 0 {
			hi, lo = 1, 1
		} else {
			if hi != 1 {
				hiHint = 3
			}
			if lo != 1 {
				loHint = 3
			}
		}
	}
	return hi<<6 | hiHint<<4 | lo<<2 | loHint
}

// combineNibble merges the inner or outer cacheability of both stages.
// Non-cacheable wins, then write-through.
func combineNibble(s1, s2 uint8) uint8 {
	switch {
	case s1 == 4 || s2 == 4:
		return 4
	case (s1>>2)&3 == 0 || (s1>>2)&3 == 2:
		return s1
	case (s2>>2)&3 == 2:
		return 2<<2 | s1&3
	}
	return s1
}

func combineShareability(s1, s2 uint8) uint8 {
	switch {
	case s1 == ShareOuter || s2 == ShareOuter:
		return ShareOuter
	case s1 == ShareInner || s2 == ShareInner:
		return ShareInner
	}
	return ShareNone
}

// combineAttrs merges stage-1 and stage-2 attributes. Device memory
// dominates normal memory; among device types the more restrictive
// ordering wins.
func combineAttrs(s1, s2 CacheAttrs) CacheAttrs {
	s1lo, s2lo := s1.Attrs&0xf, s2.Attrs&0xf
	s1hi, s2hi := s1.Attrs>>4, s2.Attrs>>4

	var out CacheAttrs
	if s1hi == 0 || s2hi == 0 {
		switch {
		case s1hi == 0 && s2hi == 0:
			out.Attrs = min(s1lo, s2lo)
		case s1hi == 0:
			out.Attrs = s1lo
		default:
			out.Attrs = s2lo
		}
	} else {
		out.Attrs = combineNibble(s1hi, s2hi)<<4 | combineNibble(s1lo, s2lo)
	}

	out.Shareability = combineShareability(s1.Shareability, s2.Shareability)
	if out.IsDevice() || out.Attrs == 0x44 {
		out.Shareability = ShareOuter
	}
	return out
}
