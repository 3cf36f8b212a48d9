package dungeon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"landkeeper/pkg/land"
)

// diceExpr matches expressions like "2d6+1".
var diceExpr = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)

// rollDice parses and rolls expression, drawing randomness from rng instead
// of a private *rand.Rand — handlers must route every non-deterministic
// input through land.Services so the replay substrate can intercept it.
func rollDice(rng land.RNG, expression string) (int, error) {
	expression = strings.ToLower(strings.ReplaceAll(expression, " ", ""))
	m := diceExpr.FindStringSubmatch(expression)
	if len(m) < 3 {
		return 0, fmt.Errorf("dungeon: invalid dice expression %q", expression)
	}
	numDice, err := strconv.Atoi(m[1])
	if err != nil || numDice <= 0 {
		return 0, fmt.Errorf("dungeon: invalid dice count in %q", expression)
	}
	dieSize, err := strconv.Atoi(m[2])
	if err != nil || dieSize <= 0 {
		return 0, fmt.Errorf("dungeon: invalid die size in %q", expression)
	}
	modifier := 0
	if len(m) >= 4 && m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return 0, fmt.Errorf("dungeon: invalid modifier in %q", expression)
		}
	}

	total := 0
	for i := 0; i < numDice; i++ {
		total += rollOne(rng, dieSize)
	}
	return total + modifier, nil
}

// rollOne draws a single 1..sides result from rng's raw int63 stream.
func rollOne(rng land.RNG, sides int) int {
	if sides <= 0 {
		return 0
	}
	n := rng.Int63()
	if n < 0 {
		n = -n
	}
	return int(n%int64(sides)) + 1
}
