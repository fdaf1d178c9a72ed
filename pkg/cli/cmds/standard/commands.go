package standard

import (
	"fmt"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/modlink/pkg/cli/sh"
	"github.com/robotalks/modlink/pkg/modlink"
	msgs "github.com/robotalks/modlink/pkg/modlink/standard"
)

// ParsePatternStep parses DURATION:COLOR, e.g. 500ms:#ff0000.
func ParsePatternStep(arg string) (step msgs.LEDPatternStep, err error) {
	tokens := strings.SplitN(arg, ":", 2)
	if len(tokens) != 2 {
		return step, fmt.Errorf("invalid step %q, expect DURATION:COLOR", arg)
	}
	if step.Duration, err = time.ParseDuration(tokens[0]); err != nil {
		return step, fmt.Errorf("invalid step %q: %w", arg, err)
	}
	step.Color, err = msgs.ParseColor(tokens[1])
	return
}

var (
	// KeepAliveCmd exposes KeepAlive command.
	KeepAliveCmd = ishell.Cmd{
		Name:    "ping",
		Aliases: []string{"keepalive"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			sh.DoCommand(c, msgs.NewKeepAlive(m))
		}),
	}

	// FailSafeCmd exposes FailSafe command.
	FailSafeCmd = ishell.Cmd{
		Name:    "failsafe",
		Aliases: []string{"stop"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			sh.DoCommand(c, msgs.NewFailSafe(m))
		}),
	}

	// StatusCmd exposes GetModuleStatus command.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "[clear]",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			clearStatus := len(c.Args) > 0 && c.Args[0] == "clear"
			sh.DoCommand(c, msgs.NewGetModuleStatus(m, clearStatus))
		}),
	}

	// QueryInterfaceCmd exposes QueryInterface command.
	QueryInterfaceCmd = ishell.Cmd{
		Name:    "query",
		Aliases: []string{"q"},
		Help:    "INTERFACE",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("INTERFACE required"))
				return
			}
			sh.DoCommand(c, msgs.NewQueryInterface(m, c.Args[0]))
		}),
	}

	// LEDColorCmd exposes SetModuleLEDColor and GetModuleLEDColor commands.
	LEDColorCmd = ishell.Cmd{
		Name:    "led",
		Aliases: []string{"led.color"},
		Help:    "[#rrggbb]",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			if len(c.Args) == 0 {
				sh.DoCommand(c, msgs.NewGetModuleLEDColor(m))
				return
			}
			color, err := msgs.ParseColor(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, msgs.NewSetModuleLEDColor(m, color))
		}),
	}

	// LEDPatternCmd exposes SetModuleLEDPattern command.
	LEDPatternCmd = ishell.Cmd{
		Name:    "led.pattern",
		Aliases: []string{"ledp"},
		Help:    "DURATION:#rrggbb ...",
		Func: sh.MustBeConnected(func(c *ishell.Context, m *modlink.Module) {
			if len(c.Args) > msgs.MaxLEDPatternSteps {
				c.Err(fmt.Errorf("at most %d steps", msgs.MaxLEDPatternSteps))
				return
			}
			steps := make([]msgs.LEDPatternStep, 0, len(c.Args))
			for _, arg := range c.Args {
				step, err := ParsePatternStep(arg)
				if err != nil {
					c.Err(err)
					return
				}
				steps = append(steps, step)
			}
			sh.DoCommand(c, msgs.NewSetModuleLEDPattern(m, steps...))
		}),
	}
)

func init() {
	sh.AddCmds(
		&KeepAliveCmd,
		&FailSafeCmd,
		&StatusCmd,
		&QueryInterfaceCmd,
		&LEDColorCmd,
		&LEDPatternCmd,
	)
}
