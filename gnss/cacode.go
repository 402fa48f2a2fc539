// GPSL1 - A software-defined GPS L1 C/A receiver core.
// Copyright (C) 2017 The gpsl1 project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package gnss

import "fmt"

// G2 output tap pairs per PRN (IS-GPS-200, table 3-I). Entry i holds the
// 1-based register stages whose XOR forms the delayed G2 sequence for PRN i+1.
var g2Taps = [32][2]int{
	{2, 6}, {3, 7}, {4, 8}, {5, 9}, {1, 9}, {2, 10}, {1, 8}, {2, 9},
	{3, 10}, {2, 3}, {3, 4}, {5, 6}, {6, 7}, {7, 8}, {8, 9}, {9, 10},
	{1, 4}, {2, 5}, {3, 6}, {4, 7}, {5, 8}, {6, 9}, {1, 3}, {4, 6},
	{5, 7}, {6, 8}, {7, 9}, {8, 10}, {1, 6}, {2, 7}, {3, 8}, {4, 9},
}

// CACode generates one period of the C/A spreading code for the given PRN
// as ±1 complex chips, rotated left by chipOffset. The generator is the
// standard G1/G2 LFSR pair, both seeded all-ones; a chip value of binary 1
// maps to +1. Panics on a PRN outside 1..32, which indicates a
// configuration bug upstream.
func CACode(prn, chipOffset int) []complex64 {
	if prn < 1 || prn > 32 {
		panic(fmt.Sprintf("gnss: invalid PRN %d", prn))
	}

	var g1, g2 [11]byte // 1-based stages
	for i := 1; i <= 10; i++ {
		g1[i] = 1
		g2[i] = 1
	}

	t1, t2 := g2Taps[prn-1][0], g2Taps[prn-1][1]

	code := make([]complex64, CodeLengthChips)
	for i := 0; i < CodeLengthChips; i++ {
		chip := g1[10] ^ g2[t1] ^ g2[t2]
		idx := i - chipOffset
		if idx < 0 {
			idx += CodeLengthChips
		}
		idx %= CodeLengthChips
		if chip == 1 {
			code[idx] = 1
		} else {
			code[idx] = -1
		}

		// G1: x^10 + x^3 + 1, G2: x^10 + x^9 + x^8 + x^6 + x^3 + x^2 + 1
		fb1 := g1[3] ^ g1[10]
		fb2 := g2[2] ^ g2[3] ^ g2[6] ^ g2[8] ^ g2[9] ^ g2[10]
		copy(g1[2:], g1[1:10])
		copy(g2[2:], g2[1:10])
		g1[1] = fb1
		g2[1] = fb2
	}

	return code
}

// PaddedCACode returns the code for one period with one guard chip on each
// side: index 0 holds the last chip and index 1024 the first, so that
// fractional-sample replica interpolation windows never index out of range.
// The code proper occupies indices 1..1023.
func PaddedCACode(prn int) []complex64 {
	code := CACode(prn, 0)

	padded := make([]complex64, CodeLengthChips+2)
	copy(padded[1:], code)
	padded[0] = code[CodeLengthChips-1]
	padded[CodeLengthChips+1] = code[0]

	return padded
}
