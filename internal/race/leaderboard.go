package race

import (
	"fmt"
	"sort"
)

// Standings orders the player set for display: completed players first by
// ascending finish time, then incomplete players by descending stage. Ties
// within a group keep their relative order. The ordering is recomputed from
// scratch on every roster snapshot.
func Standings(players map[string]Player) []Player {
	names := make([]string, 0, len(players))
	for name := range players {
		names = append(names, name)
	}
	sort.Strings(names) // stable base order for ties

	out := make([]Player, 0, len(players))
	for _, name := range names {
		out = append(out, players[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Completed != b.Completed {
			return a.Completed
		}
		if a.Completed {
			return a.FinishTime < b.FinishTime
		}
		return a.Stage > b.Stage
	})
	return out
}

// Finished reports the race end condition: every player completed, and the
// roster is not empty.
func Finished(players map[string]Player) bool {
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.Completed {
			return false
		}
	}
	return true
}

// FormatFinishTime renders an elapsed time as minutes:seconds with
// zero-padded seconds, e.g. 45s -> "0:45".
func FormatFinishTime(p Player) string {
	if !p.Completed {
		return "Not finished"
	}
	total := p.FinishTime.Milliseconds() / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
