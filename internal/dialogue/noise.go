package dialogue

// Stateless positional noise (Squirrel3). The same (position, seed) always
// yields the same value, so weighted picks are reproducible from a cursor.
const (
	noiseBit1 uint32 = 0xB5297A4D
	noiseBit2 uint32 = 0x68E31DA4
	noiseBit3 uint32 = 0x1B56C4E9
)

func noise32(position, seed uint32) uint32 {
	m := position
	m *= noiseBit1
	m += seed
	m ^= m >> 8
	m += noiseBit2
	m ^= m << 8
	m *= noiseBit3
	m ^= m >> 8
	return m
}

// noiseUnit maps noise32 into [0, 1).
func noiseUnit(position, seed uint32) float64 {
	return float64(noise32(position, seed)) / (1 << 32)
}
