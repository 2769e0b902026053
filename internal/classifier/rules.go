package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Threshold is the score at or above which a process is considered a likely game.
// Downstream consumers key off this value; it is not configurable.
const Threshold = 50

// Weights are the points contributed by each independent rule.
type Weights struct {
	Path   int `mapstructure:"path" toml:"path" json:"path"`
	Parent int `mapstructure:"parent" toml:"parent" json:"parent"`
	Engine int `mapstructure:"engine" toml:"engine" json:"engine"`
	Token  int `mapstructure:"token" toml:"token" json:"token"`
}

// DefaultWeights returns the reference weights.
func DefaultWeights() Weights {
	return Weights{Path: 30, Parent: 40, Engine: 30, Token: 10}
}

// Rules is a compiled, read-only rule table. Build it with DefaultRules or Compile
// and pass it by value; nothing in this package mutates a Rules after construction.
type Rules struct {
	ignore        map[string]struct{}
	launcherPaths []*regexp.Regexp
	genericPaths  []*regexp.Regexp
	launcherNames []*regexp.Regexp
	engineTokens  []*regexp.Regexp
	genericToken  *regexp.Regexp
	weights       Weights
}

// Options extends the built-in tables. Patterns are RE2 expressions matched
// against lower-cased input.
type Options struct {
	Ignore        []string `mapstructure:"ignore" toml:"ignore"`
	LauncherPaths []string `mapstructure:"launcher_paths" toml:"launcher_paths"`
	GenericPaths  []string `mapstructure:"generic_paths" toml:"generic_paths"`
	LauncherNames []string `mapstructure:"launcher_names" toml:"launcher_names"`
	EngineTokens  []string `mapstructure:"engine_tokens" toml:"engine_tokens"`
	Weights       *Weights `mapstructure:"weights" toml:"weights,omitempty"`
}

// Launcher helpers, overlays and anti-cheat services that are never the game itself.
var defaultIgnore = []string{
	"epicwebhelper.exe",
	"epicgameslauncher.exe",
	"steam.exe",
	"gameoverlayui64.exe",
	"wallpaper64.exe",
	"steamservice.exe",
	"steamwebhelper.exe",
	"origin.exe",
	"eaanticheat.gameservicelauncher.exe",
	"bootstrappackagedgame",
}

var defaultLauncherPaths = []string{
	`\\steamapps\\|\\steam\\|steamapps`,
	`\\epic games\\|epic\s*games`,
	`\\gog games\\|gog\s*games`,
	`\\origin\\|\\ea games`,
	`\\ubisoft\\|uplay`,
	`\\battle.net\\|blizzard`,
}

var defaultGenericPaths = []string{
	`\\xboxapps\\|windowsapps`,
	`\\program files \(x86\)\\.*\\games`,
	`\\games\b`,
}

var defaultLauncherNames = []string{
	`^steam(?:\.exe)?$`,
	`epicgameslauncher(?:\.exe)?$`,
	`origin(?:\.exe)?$`,
	`battle\.net(?:\.exe)?$`,
	`uplay(?:\.exe)?$`,
	`gog(?:\.exe)?$`,
}

var defaultEngineTokens = []string{
	`steam_api`,
	`steamclient`,
	`unityplayer`,
	`ue4`,
	`ue5`,
	`unreal`,
	`cryengine`,
	`dxgi\.dll`,
	`d3d9\.dll`,
	`d3d11`,
	`vulkan`,
}

const genericTokenPattern = `\b(game|client|launcher|server)\b`

// DefaultRules returns the built-in rule table with reference weights.
func DefaultRules() Rules {
	r, err := Compile(Options{})
	if err != nil {
		// built-in patterns are constant
		panic(err)
	}
	return r
}

// Compile builds a rule table from the built-in defaults plus opts.
func Compile(opts Options) (Rules, error) {
	r := Rules{
		ignore:       make(map[string]struct{}, len(defaultIgnore)+len(opts.Ignore)),
		genericToken: regexp.MustCompile(genericTokenPattern),
		weights:      DefaultWeights(),
	}
	for _, name := range append(append([]string{}, defaultIgnore...), opts.Ignore...) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			r.ignore[name] = struct{}{}
		}
	}
	var err error
	if r.launcherPaths, err = compileAll("launcher_paths", defaultLauncherPaths, opts.LauncherPaths); err != nil {
		return Rules{}, err
	}
	if r.genericPaths, err = compileAll("generic_paths", defaultGenericPaths, opts.GenericPaths); err != nil {
		return Rules{}, err
	}
	if r.launcherNames, err = compileAll("launcher_names", defaultLauncherNames, opts.LauncherNames); err != nil {
		return Rules{}, err
	}
	if r.engineTokens, err = compileAll("engine_tokens", defaultEngineTokens, opts.EngineTokens); err != nil {
		return Rules{}, err
	}
	if opts.Weights != nil {
		w := *opts.Weights
		if w.Path < 0 || w.Parent < 0 || w.Engine < 0 || w.Token < 0 {
			return Rules{}, fmt.Errorf("classifier weights must not be negative: %+v", w)
		}
		r.weights = w
	}
	return r, nil
}

func compileAll(field string, base, extra []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(base)+len(extra))
	for _, p := range append(append([]string{}, base...), extra...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("classifier %s: invalid pattern %q: %w", field, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Weights reports the weights in effect.
func (r Rules) Weights() Weights { return r.weights }

// Ignored reports whether name is on the ignore list.
func (r Rules) Ignored(name string) bool {
	_, ok := r.ignore[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
