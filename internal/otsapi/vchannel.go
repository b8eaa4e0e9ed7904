package otsapi

import (
	"fmt"
	"sync"

	"github.com/ogon-project/ogon-sessiond/internal/config"
)

// virtualChannelPolicy resolves whether a session may open a named virtual
// channel and allocates the instance ids virtualChannelOpen/Close hand out.
// A session's own "vchannel.<name>" boolean property overrides the
// daemon-wide default whitelist (spec.md §8 scenario S4: opening a channel
// that is in neither returns an empty pipe name and instance 0). There is no
// real named-pipe transport behind these names; the pipe name follows the
// same `ogon_<sessionId>_<endpoint>` convention internal/module uses for
// backend pipes (spec.md §6).
type virtualChannelPolicy struct {
	defaults   map[string]struct{}
	properties *config.PropertyStore

	mu        sync.Mutex
	nextID    uint32
	instances map[uint32]map[uint32]string // sessionID -> instance -> channel name
}

func newVirtualChannelPolicy(defaultNames []string, properties *config.PropertyStore) *virtualChannelPolicy {
	set := make(map[string]struct{}, len(defaultNames))
	for _, n := range defaultNames {
		set[n] = struct{}{}
	}
	return &virtualChannelPolicy{
		defaults:   set,
		properties: properties,
		instances:  make(map[uint32]map[uint32]string),
	}
}

// allowed reports whether name may be opened on sessionID, per-session
// override taking precedence over the default whitelist.
func (p *virtualChannelPolicy) allowed(sessionID uint32, name string) bool {
	if v, ok := p.properties.GetBool(sessionID, "", "vchannel."+name); ok {
		return v
	}
	_, ok := p.defaults[name]
	return ok
}

// open allocates a new instance id for name on sessionID and synthesizes
// its pipe name. dynamic only affects the pipe name's suffix, matching how
// original_source distinguishes static from dynamic virtual channel
// endpoints in the name it hands back to the client.
func (p *virtualChannelPolicy) open(sessionID uint32, name string, dynamic bool) (pipeName string, instance uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	instance = p.nextID

	m, ok := p.instances[sessionID]
	if !ok {
		m = make(map[uint32]string)
		p.instances[sessionID] = m
	}
	m[instance] = name

	kind := "vc"
	if dynamic {
		kind = "vcd"
	}
	pipeName = fmt.Sprintf("ogon_%d_%s_%s", sessionID, kind, name)
	return pipeName, instance
}

// close removes instance from sessionID's open channel table, reporting
// whether it was actually open.
func (p *virtualChannelPolicy) close(sessionID, instance uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.instances[sessionID]
	if !ok {
		return false
	}
	if _, ok := m[instance]; !ok {
		return false
	}
	delete(m, instance)
	if len(m) == 0 {
		delete(p.instances, sessionID)
	}
	return true
}

// clearSession drops every open channel instance recorded for sessionID,
// called when a session ends.
func (p *virtualChannelPolicy) clearSession(sessionID uint32) {
	p.mu.Lock()
	delete(p.instances, sessionID)
	p.mu.Unlock()
}
