// Package container controls the game server containers through the
// Docker Engine API.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"acore-backup/internal/errors"
	"acore-backup/internal/logging"
)

// Default container names of an AzerothCore docker deployment
const (
	WorldServer = "ac-worldserver"
	AuthServer  = "ac-authserver"
)

const (
	defaultSocket  = "/var/run/docker.sock"
	requestTimeout = 15 * time.Second
	// Docker needs time beyond the stop grace period to report back.
	stopOverhead = 10 * time.Second
	maxLogBytes  = 1 << 20
)

// Container states reported by Docker
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusDead    = "dead"
	StatusUnknown = "unknown"
)

// Config selects the Docker endpoint and the containers that may be touched
type Config struct {
	Socket     string   `mapstructure:"socket" yaml:"socket"`
	APIVersion string   `mapstructure:"api_version" yaml:"api_version"`
	Allowed    []string `mapstructure:"allowed" yaml:"allowed"`
}

// State is the summary of a container inspect
type State struct {
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	StartedAt string `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
}

// Running reports whether Docker considers the container running
func (s State) Running() bool {
	return s.Status == StatusRunning
}

// Client restricts the Docker SDK client to an allowlist of containers and
// maps its errors onto the application error types
type Client struct {
	api     *dockerclient.Client
	allowed []string
	logger  *logging.Logger
}

// NewClient creates a client bound to the Docker unix socket. Extra
// options are applied last, so they can point the client elsewhere.
func NewClient(config Config, logger *logging.Logger, opts ...dockerclient.Opt) (*Client, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	socket := config.Socket
	if socket == "" {
		socket = defaultSocket
	}

	base := []dockerclient.Opt{dockerclient.WithHost("unix://" + socket)}
	if version := strings.TrimPrefix(config.APIVersion, "v"); version != "" {
		base = append(base, dockerclient.WithVersion(version))
	} else {
		base = append(base, dockerclient.WithAPIVersionNegotiation())
	}

	api, err := dockerclient.NewClientWithOpts(append(base, opts...)...)
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("invalid docker client settings: %v", err))
	}

	allowed := config.Allowed
	if len(allowed) == 0 {
		allowed = []string{WorldServer, AuthServer}
	}
	return &Client{api: api, allowed: slices.Clone(allowed), logger: logger}, nil
}

// Close releases the idle connections of the underlying client
func (c *Client) Close() error {
	return c.api.Close()
}

// Allowed reports whether name is in the container allowlist
func (c *Client) Allowed(name string) bool {
	return slices.Contains(c.allowed, name)
}

func (c *Client) checkAllowed(name string) error {
	if !c.Allowed(name) {
		return errors.NewInputError(fmt.Sprintf("container %q is not in the allowlist", name))
	}
	return nil
}

// Stop stops a container, giving it timeout to exit cleanly. A container
// that is already stopped counts as success.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) error {
	if err := c.checkAllowed(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+stopOverhead)
	defer cancel()

	secs := int(timeout.Seconds())
	if err := c.api.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &secs}); err != nil {
		err = apiError("stop", name, err)
		c.logger.WithFields(map[string]interface{}{"container": name, "error": err.Error()}).Error("Failed to stop container")
		return err
	}
	c.logger.WithField("container", name).Info("Container stopped")
	return nil
}

// Start starts a container. A container that is already running counts
// as success.
func (c *Client) Start(ctx context.Context, name string) error {
	if err := c.checkAllowed(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.api.ContainerStart(ctx, name, dockercontainer.StartOptions{}); err != nil {
		err = apiError("start", name, err)
		c.logger.WithFields(map[string]interface{}{"container": name, "error": err.Error()}).Error("Failed to start container")
		return err
	}
	c.logger.WithField("container", name).Info("Container started")
	return nil
}

// Restart restarts a container
func (c *Client) Restart(ctx context.Context, name string, timeout time.Duration) error {
	if err := c.checkAllowed(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+stopOverhead)
	defer cancel()

	secs := int(timeout.Seconds())
	if err := c.api.ContainerRestart(ctx, name, dockercontainer.StopOptions{Timeout: &secs}); err != nil {
		return apiError("restart", name, err)
	}
	c.logger.WithField("container", name).Info("Container restarted")
	return nil
}

// State inspects a container
func (c *Client) State(ctx context.Context, name string) (State, error) {
	unknown := State{Name: name, Status: StatusUnknown}
	if err := c.checkAllowed(name); err != nil {
		return unknown, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return unknown, apiError("inspect", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || info.State.Status == "" {
		return unknown, nil
	}
	return State{Name: name, Status: string(info.State.Status), StartedAt: info.State.StartedAt}, nil
}

// Logs returns the last tail lines of a container's combined output
func (c *Client) Logs(ctx context.Context, name string, tail int) (string, error) {
	if err := c.checkAllowed(name); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	rc, err := c.api.ContainerLogs(ctx, name, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", apiError("read logs of", name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxLogBytes))
	if err != nil {
		return "", errors.NewTransientIOError(fmt.Sprintf("failed to read logs of %s", name), err)
	}
	return demultiplex(raw), nil
}

// demultiplex strips the stream frame headers Docker adds to the output of
// containers without a TTY. TTY output has no frames and is returned as is.
func demultiplex(raw []byte) string {
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil {
		return string(raw)
	}
	return out.String()
}

func apiError(action, name string, err error) error {
	msg := fmt.Sprintf("failed to %s container %s: %v", action, name, err)
	if dockerclient.IsErrNotFound(err) {
		return errors.NewAppError(errors.ErrorTypeNotFound, msg, err)
	}
	return errors.NewTransientIOError(msg, err)
}
