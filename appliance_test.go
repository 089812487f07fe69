// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
)

// fakeDrop makes the fake appliance close the connection instead of replying
const fakeDrop = "\x00drop"

var fakeSessionPrefix = regexp.MustCompile(`^--sessionId "([^"]*)" (.*)$`)

type fakeEmulation struct {
	id      int
	name    string
	running bool
	vis     []int
}

type fakeVI struct {
	id        int
	emulation int
	name      string
	scalars   map[string]string
	modules   []string
}

type fakePort struct {
	id       int
	name     string
	parent   int
	reserved string
	typ      string
	subtype  string
}

// fakeAppliance is an in-memory appliance speaking the command protocol
// over net.Pipe connections (or TCP via listen)
type fakeAppliance struct {
	mu sync.Mutex

	username string
	password string
	tokens   map[string]bool
	logins   int
	dials    int

	emulations []*fakeEmulation
	vis        map[int]*fakeVI
	ports      []*fakePort
	nextID     int
	commands   []string

	// hook overrides the reply to a session command; called with mu held
	hook func(cmd string) (string, bool)

	// inUse makes --delPortModule report the port in use this many times
	inUse map[int]int

	// busyInput makes amending the named VI report its input port busy this many times
	busyInput map[string]int

	// chunked splits every reply into two writes
	chunked bool

	// hangUp closes the connection after replying to a command containing it
	hangUp string

	refuse   bool
	closed   bool
	conns    []net.Conn
	listener net.Listener
	wg       sync.WaitGroup
}

func newFakeAppliance(t testing.TB) *fakeAppliance {
	t.Helper()
	f := &fakeAppliance{
		username:  "admin",
		password:  "secret",
		tokens:    map[string]bool{},
		vis:       map[int]*fakeVI{},
		inUse:     map[int]int{},
		busyInput: map[string]int{},
		nextID:    100,
	}
	f.ports = []*fakePort{
		{id: 1, name: "0", parent: -1, reserved: "0", typ: "physical"},
		{id: 2, name: "1", parent: -1, reserved: "0", typ: "physical"},
	}
	t.Cleanup(f.close)
	return f
}

// newTestClient returns a client wired to the fake appliance with fast
// timeouts and no retry backoff
func newTestClient(t testing.TB, f *fakeAppliance, opts ...func(*Client)) *Client {
	t.Helper()
	all := []func(*Client){
		Port(9000),
		Username("admin"),
		Password("secret"),
		IdleTimeout(10 * time.Millisecond),
		OperationTimeout(2 * time.Second),
		RetryRules(fastRules()...),
	}
	all = append(all, opts...)
	c, err := NewClient("appliance.test", all...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.dial = f.dial
	t.Cleanup(func() {
		_ = c.Close() //nolint:errcheck // test cleanup
	})
	return c
}

func fastRules() []RetryRule {
	rules := make([]RetryRule, len(TransientErrors))
	for i, r := range TransientErrors {
		r.Delay = 0
		rules[i] = r
	}
	return rules
}

func (f *fakeAppliance) dial(_ context.Context, _, _ string) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse || f.closed {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	f.dials++
	f.conns = append(f.conns, server)
	f.wg.Add(1)
	go f.serve(server)
	return client, nil
}

// listen serves the appliance on a loopback TCP port
func (f *fakeAppliance) listen(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f.mu.Lock()
	f.listener = ln
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.dials++
			f.conns = append(f.conns, conn)
			f.wg.Add(1)
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeAppliance) serve(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close() //nolint:errcheck // fake server

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := f.handle(strings.TrimRight(line, "\r\n"))
		switch reply {
		case fakeDrop:
			return
		case "":
			continue
		}
		if err := f.write(conn, reply); err != nil {
			return
		}
		if f.hangsUp(line) {
			return
		}
	}
}

func (f *fakeAppliance) hangsUp(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hangUp != "" && strings.Contains(line, f.hangUp)
}

func (f *fakeAppliance) write(conn net.Conn, reply string) error {
	f.mu.Lock()
	chunked := f.chunked
	f.mu.Unlock()

	if !chunked || len(reply) < 2 {
		_, err := conn.Write([]byte(reply + "\n"))
		return err
	}
	half := len(reply) / 2
	if _, err := conn.Write([]byte(reply[:half])); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	_, err := conn.Write([]byte(reply[half:] + "\n"))
	return err
}

// dropConnections closes every server side connection
func (f *fakeAppliance) dropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close() //nolint:errcheck // fake server
	}
	f.conns = nil
}

func (f *fakeAppliance) close() {
	f.mu.Lock()
	f.closed = true
	if f.listener != nil {
		_ = f.listener.Close() //nolint:errcheck // fake server
	}
	for _, c := range f.conns {
		_ = c.Close() //nolint:errcheck // fake server
	}
	f.conns = nil
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *fakeAppliance) expireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = map[string]bool{}
}

func (f *fakeAppliance) setHook(hook func(cmd string) (string, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

func (f *fakeAppliance) commandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeAppliance) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeAppliance) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// countCommands counts logged commands containing substr
func (f *fakeAppliance) countCommands(substr string) int {
	n := 0
	for _, c := range f.commandLog() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// seedEmulation adds an emulation and returns its id
func (f *fakeAppliance) seedEmulation(name string, running bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newEmulation(name, running).id
}

// seedVI adds a VI with the given module strings and returns its id
func (f *fakeAppliance) seedVI(emulation int, name string, modules ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	vi := f.newVI(emulation, name)
	vi.modules = append(vi.modules, modules...)
	return vi.id
}

// seedPort adds a port below the named parent ("" for none) and returns its id
func (f *fakeAppliance) seedPort(name, parent, typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	parentID := -1
	if p := f.portNamed(parent); p != nil {
		parentID = p.id
	}
	return f.newPort(name, parentID, typ, "").id
}

// emulationNamed returns the most recently added emulation with the name
func (f *fakeAppliance) emulationNamed(name string) *fakeEmulation {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.emulations) - 1; i >= 0; i-- {
		if e := f.emulations[i]; e.name == name {
			cp := *e
			cp.vis = append([]int(nil), e.vis...)
			return &cp
		}
	}
	return nil
}

func (f *fakeAppliance) viNamed(emulation int, name string) *fakeVI {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vi := range f.vis {
		if vi.emulation == emulation && vi.name == name {
			cp := *vi
			cp.modules = append([]string(nil), vi.modules...)
			return &cp
		}
	}
	return nil
}

func (f *fakeAppliance) port(name string) *fakePort {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.portNamed(name); p != nil {
		cp := *p
		return &cp
	}
	return nil
}

// handle answers one command line
func (f *fakeAppliance) handle(line string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(line, "--login ") {
		return f.login(line)
	}

	m := fakeSessionPrefix.FindStringSubmatch(line)
	if m == nil || !f.tokens[m[1]] {
		return `--error "Unable to find user session"`
	}
	cmd := m[2]
	f.commands = append(f.commands, cmd)

	if f.hook != nil {
		if reply, ok := f.hook(cmd); ok {
			return reply
		}
	}

	tokens, err := shellquote.Split(cmd)
	if err != nil {
		return `--error "Unable to parse command"`
	}
	args := parseFakeArgs(tokens)

	switch {
	case args.has("getemulations"):
		return f.listEmulations()
	case args.has("getAllPorts"):
		return f.listPorts()
	case args.has("getVIsForEmulation"):
		return f.listVIs(args.num("emulationId"))
	case args.has("getVISettings"):
		return f.viSettings(args.num("Id"))
	case args.has("addEmulation"):
		e := f.newEmulation(args.get("addEmulation"), false)
		return fmt.Sprintf("--emulationId %d", e.id)
	case args.has("addVi"):
		id := args.num("emulationId")
		if f.emulation(id) == nil {
			return fmt.Sprintf(`--error "Emulation id [%d] not found"`, id)
		}
		return fmt.Sprintf("--id %d", f.newVI(id, args.get("addVi")).id)
	case args.has("start"), args.has("stop"):
		e := f.emulation(args.num("emulationId"))
		if e == nil {
			return `--error "Emulation not found"`
		}
		e.running = args.has("start")
		return HeaderOK
	case args.has("delPortModule"):
		return f.deletePort(args.num("delPortModule"))
	case args.has("portModule"):
		return f.portModule(args.get("portModule"))
	case args.has("Id") && args.has("procModule"):
		return f.setModules(args.num("Id"), args.all("procModule"))
	case args.has("id"):
		return f.amend(args)
	}
	return `--error "Unknown command"`
}

func (f *fakeAppliance) login(line string) string {
	tokens, err := shellquote.Split(line)
	if err != nil || len(tokens) != 2 || tokens[1] != f.username+";"+f.password {
		return `--error "Invalid username or password"`
	}
	f.logins++
	token := fmt.Sprintf("tok-%d", f.logins)
	f.tokens[token] = true
	return fmt.Sprintf(`--sessionId "%s"`, token)
}

func (f *fakeAppliance) newEmulation(name string, running bool) *fakeEmulation {
	f.nextID++
	e := &fakeEmulation{id: f.nextID, name: name, running: running}
	f.emulations = append(f.emulations, e)
	return e
}

func (f *fakeAppliance) emulation(id int) *fakeEmulation {
	for _, e := range f.emulations {
		if e.id == id {
			return e
		}
	}
	return nil
}

func (f *fakeAppliance) newVI(emulation int, name string) *fakeVI {
	f.nextID++
	vi := &fakeVI{
		id:        f.nextID,
		emulation: emulation,
		name:      name,
		scalars: map[string]string{
			"vitype": "picture", "groupname": name, "xpos": "0", "ypos": "0",
			"width": "80", "height": "80", "objdir": "0", "image": "", "notes": "",
		},
	}
	f.vis[vi.id] = vi
	if e := f.emulation(emulation); e != nil {
		e.vis = append(e.vis, vi.id)
	}
	return vi
}

func (f *fakeAppliance) newPort(name string, parent int, typ, subtype string) *fakePort {
	f.nextID++
	p := &fakePort{id: f.nextID, name: name, parent: parent, reserved: "0", typ: typ, subtype: subtype}
	f.ports = append(f.ports, p)
	return p
}

func (f *fakeAppliance) portNamed(name string) *fakePort {
	for _, p := range f.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (f *fakeAppliance) listEmulations() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d;", len(f.emulations))
	for _, e := range f.emulations {
		running := "0"
		if e.running {
			running = "1"
		}
		fmt.Fprintf(&b, "%d;%s;%s;;0;admin;2025-01-01 10:00;2025-01-01 10:05;", e.id, e.name, running)
	}
	return `--emulations "` + b.String() + `"`
}

func (f *fakeAppliance) listPorts() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d;", len(f.ports))
	for _, p := range f.ports {
		fmt.Fprintf(&b, "%d;%s;%d;%s;%s;%s;", p.id, p.name, p.parent, p.reserved, p.typ, p.subtype)
	}
	return `--allPorts "` + b.String() + `"`
}

func (f *fakeAppliance) listVIs(emulation int) string {
	e := f.emulation(emulation)
	if e == nil {
		return fmt.Sprintf(`--error "Emulation id [%d] not found"`, emulation)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d;", len(e.vis))
	for _, id := range e.vis {
		fmt.Fprintf(&b, "%d;", id)
	}
	return `--VIsForEmulation "` + b.String() + `"`
}

func (f *fakeAppliance) viSettings(id int) string {
	vi := f.vis[id]
	if vi == nil {
		return fmt.Sprintf(`--error "VI id [%d] not found"`, id)
	}
	s := vi.scalars
	var b strings.Builder
	fmt.Fprintf(&b, `--id %d --name "%s" --setUserGivenId "" --vitype "%s" --groupname "%s"`,
		vi.id, vi.name, s["vitype"], s["groupname"])
	fmt.Fprintf(&b, ` --xpos %s --ypos %s --width %s --height %s --objdir %s`,
		s["xpos"], s["ypos"], s["width"], s["height"], s["objdir"])
	fmt.Fprintf(&b, ` --image "%s" --notes "%s" --meta ""`, s["image"], s["notes"])
	for _, m := range vi.modules {
		fmt.Fprintf(&b, ` --procModule "%s"`, m)
	}
	return b.String()
}

func (f *fakeAppliance) deletePort(id int) string {
	var port *fakePort
	for _, p := range f.ports {
		if p.id == id {
			port = p
		}
		if p.parent == id {
			return fmt.Sprintf(childPortPattern, id)
		}
	}
	if port == nil {
		return fmt.Sprintf(`--error "Port id [%d] does not exist"`, id)
	}
	if f.inUse[id] > 0 {
		f.inUse[id]--
		return fmt.Sprintf(TransientErrors[0].Pattern, id)
	}
	kept := f.ports[:0]
	for _, p := range f.ports {
		if p.id != id {
			kept = append(kept, p)
		}
	}
	f.ports = kept
	return HeaderOK
}

func (f *fakeAppliance) portModule(raw string) string {
	parts := strings.Split(raw, ";")
	if len(parts) < 2 {
		return `--error "Malformed port module"`
	}
	name, iface := parts[0], parts[1]
	params := map[string]string{}
	for i := 2; i+1 < len(parts); i += 2 {
		params[parts[i]] = parts[i+1]
	}

	parent := f.portNamed(iface)
	if parent == nil {
		return fmt.Sprintf(`--error "No such port (%s)"`, iface)
	}
	var portName, typ, subtype string
	switch name {
	case PortModuleVLAN:
		portName, typ = params["VLAN_Interfaces[0].Interface_Name"], "vlan"
	case PortModuleIPv4:
		portName, typ, subtype = params["IPv4_Interfaces[0].Address"], "ipv4", "static"
	default:
		return `--error "Unknown port module"`
	}
	if f.portNamed(portName) != nil {
		return fmt.Sprintf(`--error "Port [%s] already exists"`, portName)
	}
	f.newPort(portName, parent.id, typ, subtype)
	return HeaderOK
}

func (f *fakeAppliance) setModules(id int, modules []string) string {
	vi := f.vis[id]
	if vi == nil {
		return fmt.Sprintf(`--error "VI id [%d] not found"`, id)
	}
	for _, raw := range modules {
		m, err := ParseModule(raw)
		if err != nil {
			return `--error "Malformed module"`
		}
		replaced := false
		for i, existing := range vi.modules {
			if old, err := ParseModule(existing); err == nil && old.Slot == m.Slot {
				vi.modules[i] = raw
				replaced = true
				break
			}
		}
		if !replaced {
			vi.modules = append(vi.modules, raw)
			sort.SliceStable(vi.modules, func(i, j int) bool {
				a, _ := ParseModule(vi.modules[i])
				b, _ := ParseModule(vi.modules[j])
				return a.Slot < b.Slot
			})
		}
	}
	return HeaderOK
}

func (f *fakeAppliance) amend(args fakeArgs) string {
	vi := f.vis[args.num("id")]
	if vi == nil {
		return fmt.Sprintf(`--error "VI id [%s] not found"`, args.get("id"))
	}

	modules := args.all("procModule")
	for _, raw := range modules {
		m, err := ParseModule(raw)
		if err != nil {
			return `--error "Malformed module"`
		}
		if m.Name != ModuleSymmetricRouting {
			continue
		}
		addr, _ := m.Param("Port_In")
		if f.busyInput[vi.name] > 0 {
			f.busyInput[vi.name]--
			return fmt.Sprintf(TransientErrors[1].Pattern, vi.name, addr)
		}
		if f.portNamed(addr) == nil {
			return fmt.Sprintf(noSuchPortPattern, vi.name, addr)
		}
	}

	vi.modules = append([]string(nil), modules...)
	for _, name := range []string{"vitype", "groupname", "xpos", "ypos", "width", "height", "objdir", "image", "notes"} {
		if args.has(name) {
			vi.scalars[name] = args.get(name)
		}
	}
	return HeaderOK
}

type fakeArg struct {
	name  string
	value string
}

type fakeArgs []fakeArg

// parseFakeArgs pairs each --flag with the following non-flag token
func parseFakeArgs(tokens []string) fakeArgs {
	var args fakeArgs
	for i := 0; i < len(tokens); i++ {
		if !strings.HasPrefix(tokens[i], "--") {
			continue
		}
		a := fakeArg{name: strings.TrimPrefix(tokens[i], "--")}
		if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "--") {
			a.value = tokens[i+1]
			i++
		}
		args = append(args, a)
	}
	return args
}

func (a fakeArgs) has(name string) bool {
	for _, arg := range a {
		if arg.name == name {
			return true
		}
	}
	return false
}

func (a fakeArgs) get(name string) string {
	for _, arg := range a {
		if arg.name == name {
			return arg.value
		}
	}
	return ""
}

func (a fakeArgs) num(name string) int {
	v, _ := strconv.Atoi(a.get(name))
	return v
}

func (a fakeArgs) all(name string) []string {
	var out []string
	for _, arg := range a {
		if arg.name == name {
			out = append(out, arg.value)
		}
	}
	return out
}
