// Package classifier scores a process snapshot on how likely it is to be a game.
//
// Scoring is additive: each independent rule contributes its weight, the sum is
// clamped to [0,100], and anything at or above Threshold is a likely game. An
// ignore list and the service session are checked first and short-circuit to 0.
package classifier

import (
	"regexp"
	"strings"

	"github.com/loykin/playwatch/internal/process"
)

// Reasons attached to a Classification as rules fire.
const (
	ReasonIgnored         = "process is in ignored list"
	ReasonStorePath       = "path matches known game/store folders"
	ReasonStoreLaunch     = "likely launched via game store client"
	ReasonGenericPath     = "path matches common game-related folders"
	ReasonLauncherName    = "executable is a known game launcher/launcher-like process"
	ReasonLauncherCmdline = "command line contains known launcher name"
	ReasonEngine          = "found engine / game API indicators (Unity/Unreal/Steam/etc)"
	ReasonGenericToken    = "filename contains common game-related token"
)

// Classification is the verdict for one process record.
type Classification struct {
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
	LikelyGame bool     `json:"likely_game"`
}

// Classify scores rec against rules. It performs no I/O. A zero Rules value
// behaves like DefaultRules.
func Classify(rec process.Record, rules Rules) Classification {
	if rules.genericToken == nil {
		rules = DefaultRules()
	}
	name := strings.ToLower(strings.TrimSpace(rec.Name))
	path := strings.ToLower(rec.ExecutablePath)
	cmd := strings.ToLower(strings.TrimSpace(rec.CommandLine))
	desc := strings.ToLower(strings.TrimSpace(rec.FileDescription))

	if rec.SessionID == 0 || rules.Ignored(name) || (desc != "" && rules.Ignored(desc)) {
		return Classification{Reasons: []string{ReasonIgnored}}
	}

	w := rules.weights
	score := 0
	var reasons []string

	switch {
	case path != "" && anyMatch(rules.launcherPaths, path):
		score += w.Path + w.Parent
		reasons = append(reasons, ReasonStorePath, ReasonStoreLaunch)
	case path != "" && anyMatch(rules.genericPaths, path):
		score += w.Path
		reasons = append(reasons, ReasonGenericPath)
	}

	switch {
	case name != "" && anyMatch(rules.launcherNames, name):
		score += w.Parent
		reasons = append(reasons, ReasonLauncherName)
	case cmd != "" && anyMatch(rules.launcherNames, cmd):
		score += w.Parent / 2
		reasons = append(reasons, ReasonLauncherCmdline)
	}

	for _, re := range rules.engineTokens {
		if re.MatchString(path) || re.MatchString(cmd) || re.MatchString(name) {
			score += w.Engine
			reasons = append(reasons, ReasonEngine)
			break
		}
	}

	if rules.genericToken.MatchString(name) {
		score += w.Token
		reasons = append(reasons, ReasonGenericToken)
	}

	score = max(0, min(100, score))
	return Classification{Score: score, Reasons: reasons, LikelyGame: score >= Threshold}
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
