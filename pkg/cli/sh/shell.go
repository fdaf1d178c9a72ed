package sh

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/modlink/pkg/cli/env"
	"github.com/robotalks/modlink/pkg/modlink"
	"github.com/robotalks/modlink/pkg/modlink/standard"
)

// Command is a message which can be sent and waited on.
type Command interface {
	modlink.Message
	Send(context.Context) error
	SendReceive(context.Context) (modlink.Message, error)
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	// CommandTimeout bounds each command including retransmissions and
	// waiting for the transmission lock.
	CommandTimeout time.Duration

	Shell   *ishell.Shell
	Config  *env.Config
	Session *env.Session
	Module  *modlink.Module
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "

	// DefaultCommandTimeout is the default of Shell.CommandTimeout.
	DefaultCommandTimeout = 5 * time.Second
)

var commands = []*ishell.Cmd{
	&ConnectCmd,
	&DisconnectCmd,
	&ModulesCmd,
	&UseCmd,
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive:    true,
		CommandTimeout: DefaultCommandTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection and a current module.
func MustBeConnected(fn func(c *ishell.Context, m *modlink.Module)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		if s.Session == nil || s.Module == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c, s.Module)
	}
}

// DoCommand sends a command, waits for the ack or response and prints
// the result.
func DoCommand(c *ishell.Context, cmd Command) (err error) {
	s := ShellFrom(c)
	ctx, cancel := context.WithTimeout(context.Background(), s.CommandTimeout)
	defer cancel()
	var resp modlink.Message
	if cmd.IsResponseExpected() {
		resp, err = cmd.SendReceive(ctx)
	} else {
		err = cmd.Send(ctx)
	}
	if err != nil {
		c.Err(err)
		return err
	}
	return s.printResult(c, cmd, resp)
}

func (s *Shell) printResult(c *ishell.Context, cmd, resp modlink.Message) error {
	if s.OutputJSON {
		result := map[string]interface{}{"command": modlink.MessageName(cmd)}
		if resp != nil {
			result["response"] = modlink.MessageName(resp)
			result["data"] = resp
		}
		out, err := json.Marshal(result)
		if err != nil {
			c.Err(err)
			return err
		}
		c.Println(string(out))
		return nil
	}
	if resp == nil {
		c.Println("OK")
		return nil
	}
	if stringer, ok := resp.(fmt.Stringer); ok {
		c.Printf("%s %s\n", modlink.MessageName(resp), stringer.String())
		return nil
	}
	c.Printf("%s % x\n", modlink.MessageName(resp), resp.Payload())
	return nil
}

// Connect opens the session and selects the first module.
func (s *Shell) Connect() error {
	s.Disconnect()
	session, err := s.Config.NewSession(context.Background())
	if err != nil {
		return err
	}
	session.OnStatus = func(m *modlink.Module, status *standard.ModuleStatus) {
		s.Shell.Printf("mod#=%d attention: %v\n", m.Address(), status)
	}
	s.Session = session.Start(context.Background())
	go func() {
		if err := session.Wait(); err != nil {
			glog.Errorf("session: %v", err)
		}
	}()
	return s.Use(byte(s.Config.Modules[0]))
}

// Use selects the module commands are sent to.
func (s *Shell) Use(address byte) error {
	if s.Session == nil {
		return fmt.Errorf("not connected")
	}
	m, err := s.Session.Module(address)
	if err != nil {
		return err
	}
	s.Module = m
	s.Shell.SetPrompt(fmt.Sprintf("[mod#%d] > ", address))
	return nil
}

// Disconnect closes current session.
func (s *Shell) Disconnect() {
	if s.Session != nil {
		if err := s.Session.Close(); err != nil {
			glog.Warningf("disconnect: %v", err)
		}
		s.Session, s.Module = nil, nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell. args are evaluated as a single command instead of
// starting the interactive shell.
func (s *Shell) Run(args ...string) error {
	if err := s.Connect(); err != nil {
		return fmt.Errorf("connect %q failed: %w", s.Config.URL, err)
	}
	defer s.Disconnect()

	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if !s.Interactive {
		return fmt.Errorf("command expected")
	}
	s.Shell.Run()
	return nil
}

// ParseAddress parses a module address argument.
func ParseAddress(arg string) (byte, error) {
	val, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid module address %q: %w", arg, err)
	}
	return byte(val), nil
}

var (
	// ConnectCmd connects the configured stream.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				s.Config.URL = c.Args[0]
			}
			if err := s.Connect(); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current stream.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// ModulesCmd lists the attached modules.
	ModulesCmd = ishell.Cmd{
		Name:    "modules",
		Aliases: []string{"ls"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if s.Session == nil {
				c.Err(fmt.Errorf("not connected"))
				return
			}
			c.Printf("link %s\n", s.Session.Link.State())
			for _, m := range s.Session.Link.Modules() {
				current := " "
				if m == s.Module {
					current = "*"
				}
				c.Printf("%s mod#=%d pending=%d attention=%d\n",
					current, m.Address(), m.UnfinishedCount(), m.AttentionCount())
			}
		},
	}

	// UseCmd selects the current module.
	UseCmd = ishell.Cmd{
		Name:    "use",
		Aliases: []string{"u"},
		Help:    "ADDRESS",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("ADDRESS required"))
				return
			}
			addr, err := ParseAddress(c.Args[0])
			if err == nil {
				err = ShellFrom(c).Use(addr)
			}
			if err != nil {
				c.Err(err)
			}
		},
	}
)
