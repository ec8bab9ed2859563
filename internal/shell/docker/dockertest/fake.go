// Package dockertest provides an in-memory docker.Client for tests.
package dockertest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/R1ck404/mercel/internal/shell/docker"
)

// ExecFunc scripts the result of an exec: its combined output and exit code.
type ExecFunc func(containerID string, spec docker.ExecSpec) (output string, exitCode int)

// Fake is a concurrency-safe in-memory docker.Client.
type Fake struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*docker.ContainerInfo
	specs      map[string]docker.ContainerSpec
	execs      map[string]*docker.ExecState
	images     map[string]bool

	// ExecLog records every exec command line in order.
	ExecLog []ExecCall

	// OnExec scripts exec results. Nil means every exec prints nothing and exits 0.
	OnExec ExecFunc

	// OnStream, when set, supplies the output stream instead of OnExec. It
	// lets tests hold an exec open.
	OnStream func(containerID string, spec docker.ExecSpec) io.ReadCloser

	// Failure injection.
	CreateErr error
	StartErr  error
	StopErr   error
	RemoveErr error
	ExecErr   error
	PingErr   error

	events chan docker.ContainerEvent
}

// ExecCall is one recorded exec.
type ExecCall struct {
	ContainerID string
	Spec        docker.ExecSpec
}

// Line returns the shell line passed to sh -c, or the joined argv.
func (c ExecCall) Line() string {
	if len(c.Spec.Cmd) == 3 && c.Spec.Cmd[0] == "sh" && c.Spec.Cmd[1] == "-c" {
		return c.Spec.Cmd[2]
	}
	return strings.Join(c.Spec.Cmd, " ")
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		containers: map[string]*docker.ContainerInfo{},
		specs:      map[string]docker.ContainerSpec{},
		execs:      map[string]*docker.ExecState{},
		images:     map[string]bool{},
		events:     make(chan docker.ContainerEvent, 16),
	}
}

var _ docker.Client = (*Fake)(nil)

func (f *Fake) CreateContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	for _, c := range f.containers {
		if c.Name == spec.Name {
			return "", docker.NewDockerError("CreateContainer", "container", spec.Name, "container already exists", docker.ErrContainerAlreadyExists)
		}
	}
	f.seq++
	id := fmt.Sprintf("c%04d", f.seq)
	f.containers[id] = &docker.ContainerInfo{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		Status:    docker.ContainerStatusCreated,
		CreatedAt: time.Now(),
		Ports:     spec.Ports,
		Labels:    spec.Labels,
	}
	f.specs[id] = spec
	return id, nil
}

func (f *Fake) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return notFound("StartContainer", id)
	}
	c.Status = docker.ContainerStatusRunning
	return nil
}

func (f *Fake) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return notFound("StopContainer", id)
	}
	c.Status = docker.ContainerStatusExited
	return nil
}

func (f *Fake) RemoveContainer(_ context.Context, id string, _ docker.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.containers[id]; !ok {
		return notFound("RemoveContainer", id)
	}
	delete(f.containers, id)
	delete(f.specs, id)
	return nil
}

func (f *Fake) InspectContainer(_ context.Context, id string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, notFound("InspectContainer", id)
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) ListContainers(_ context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []docker.ContainerInfo
	for _, c := range f.containers {
		if !opts.All && c.Status != docker.ContainerStatusRunning {
			continue
		}
		if want, ok := opts.Filters["name"]; ok && !strings.Contains(c.Name, want) {
			continue
		}
		if want, ok := opts.Filters["label"]; ok {
			k, v, _ := strings.Cut(want, "=")
			if c.Labels[k] != v {
				continue
			}
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *Fake) ExecStart(_ context.Context, id string, spec docker.ExecSpec) (*docker.ExecSession, error) {
	f.mu.Lock()
	if f.ExecErr != nil {
		err := f.ExecErr
		f.mu.Unlock()
		return nil, err
	}
	c, ok := f.containers[id]
	if !ok {
		f.mu.Unlock()
		return nil, notFound("ExecStart", id)
	}
	if c.Status != docker.ContainerStatusRunning {
		f.mu.Unlock()
		return nil, docker.NewDockerError("ExecStart", "container", id, "container is not running", docker.ErrContainerNotRunning)
	}
	f.ExecLog = append(f.ExecLog, ExecCall{ContainerID: id, Spec: spec})
	f.seq++
	execID := fmt.Sprintf("e%04d", f.seq)
	onExec, onStream := f.OnExec, f.OnStream
	f.mu.Unlock()

	if onStream != nil {
		f.mu.Lock()
		f.execs[execID] = &docker.ExecState{}
		f.mu.Unlock()
		return &docker.ExecSession{ID: execID, Output: onStream(id, spec)}, nil
	}

	output, code := "", 0
	if onExec != nil {
		output, code = onExec(id, spec)
	}

	f.mu.Lock()
	f.execs[execID] = &docker.ExecState{ExitCode: code}
	f.mu.Unlock()

	return &docker.ExecSession{ID: execID, Output: io.NopCloser(strings.NewReader(output))}, nil
}

func (f *Fake) ExecInspect(_ context.Context, execID string) (*docker.ExecState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.execs[execID]
	if !ok {
		return nil, docker.NewDockerError("ExecInspect", "exec", execID, "exec not found", docker.ErrExecNotFound)
	}
	cp := *st
	return &cp, nil
}

func (f *Fake) Events(ctx context.Context, _ docker.EventOptions) (<-chan docker.ContainerEvent, <-chan error) {
	out := make(chan docker.ContainerEvent)
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errs
}

// Kill marks a container exited and emits a die event for it.
func (f *Fake) Kill(id string) {
	f.mu.Lock()
	c, ok := f.containers[id]
	var labels map[string]string
	if ok {
		c.Status = docker.ContainerStatusExited
		labels = c.Labels
	}
	f.mu.Unlock()
	if ok {
		f.events <- docker.ContainerEvent{ContainerID: id, Action: "die", Labels: labels, Time: time.Now()}
	}
}

func (f *Fake) PullImage(_ context.Context, image string, _ docker.PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[image] = true
	return nil
}

func (f *Fake) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

func (f *Fake) Ping(context.Context) error { return f.PingErr }

func (f *Fake) Close() error { return nil }

// Container returns a copy of a container's state.
func (f *Fake) Container(id string) (docker.ContainerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return docker.ContainerInfo{}, false
	}
	return *c, true
}

// Spec returns the spec a container was created with.
func (f *Fake) Spec(id string) docker.ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[id]
}

// Count returns the number of existing containers.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Calls returns a snapshot of recorded execs.
func (f *Fake) Calls() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecCall(nil), f.ExecLog...)
}

func notFound(op, id string) error {
	return docker.NewDockerError(op, "container", id, "container not found", docker.ErrContainerNotFound)
}
