package coordinator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/bus"
	"github.com/dreamware/strata/internal/message"
)

// ErrInvalidArgument is returned when a request fails validation before any
// tier dispatch: empty key, empty group, or an empty key/value on SET.
var ErrInvalidArgument = errors.New("coordinator: invalid argument")

// Coordinator routes client operations across the memory and disk tiers and
// merges their responses. It owns no storage state itself; every decision is
// stateless routing over the bus.
type Coordinator struct {
	bus *bus.Bus
	log *zap.Logger
}

// New creates a Coordinator dispatching on b.
func New(b *bus.Bus, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{bus: b, log: log.Named("coordinator")}
}

// RegisterHandlers subscribes the coordinator's six operations on the bus
// under the Coordinator recipient.
func (c *Coordinator) RegisterHandlers() error {
	if err := bus.Register(c.bus, bus.Coordinator, c.handleSet); err != nil {
		return err
	}
	if err := bus.Register(c.bus, bus.Coordinator, c.handleGetKey); err != nil {
		return err
	}
	if err := bus.Register(c.bus, bus.Coordinator, c.handleGetGroup); err != nil {
		return err
	}
	if err := bus.Register(c.bus, bus.Coordinator, c.handleDeleteKey); err != nil {
		return err
	}
	if err := bus.Register(c.bus, bus.Coordinator, c.handleDeleteGroup); err != nil {
		return err
	}
	return bus.Register(c.bus, bus.Coordinator, c.handleList)
}

// handleSet routes a write to exactly one tier, selected by the persistent
// flag.
func (c *Coordinator) handleSet(req message.SetRequest) (message.SetResponse, error) {
	if req.Key == "" || req.Value == "" {
		return message.SetResponse{}, fmt.Errorf("%w: key and value must be non-empty", ErrInvalidArgument)
	}

	target := bus.MemoryTier
	if req.Persistent {
		target = bus.DiskTier
	}
	c.log.Debug("routing SET", zap.String("key", req.Key), zap.Stringer("tier", target))

	fut, err := bus.Dispatch[message.SetResponse](c.bus, target, req)
	if err != nil {
		return message.SetResponse{}, err
	}
	return fut.Wait()
}

// handleGetKey asks the memory tier first and falls back to the disk tier
// when the value comes back empty. The disk result is not back-filled into
// the memory tier.
func (c *Coordinator) handleGetKey(req message.GetKeyRequest) (message.GetKeyResponse, error) {
	if req.Key == "" {
		return message.GetKeyResponse{}, fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	memFut, err := bus.Dispatch[message.GetKeyResponse](c.bus, bus.MemoryTier, req)
	if err != nil {
		return message.GetKeyResponse{}, err
	}
	memResp, err := memFut.Wait()
	if err != nil {
		return message.GetKeyResponse{}, err
	}
	if memResp.Value != "" {
		return memResp, nil
	}

	diskFut, err := bus.Dispatch[message.GetKeyResponse](c.bus, bus.DiskTier, req)
	if err != nil {
		return message.GetKeyResponse{}, err
	}
	return diskFut.Wait()
}

// handleGetGroup queries both tiers in parallel and concatenates the
// results, memory pairs first.
func (c *Coordinator) handleGetGroup(req message.GetGroupRequest) (message.GetGroupResponse, error) {
	if req.Group == "" {
		return message.GetGroupResponse{}, fmt.Errorf("%w: group must be non-empty", ErrInvalidArgument)
	}

	memFut, err := bus.Dispatch[message.GetGroupResponse](c.bus, bus.MemoryTier, req)
	if err != nil {
		return message.GetGroupResponse{}, err
	}
	diskFut, err := bus.Dispatch[message.GetGroupResponse](c.bus, bus.DiskTier, req)
	if err != nil {
		return message.GetGroupResponse{}, err
	}

	memResp, err := memFut.Wait()
	if err != nil {
		return message.GetGroupResponse{}, err
	}
	diskResp, err := diskFut.Wait()
	if err != nil {
		return message.GetGroupResponse{}, err
	}

	pairs := make([]message.Pair, 0, len(memResp.Pairs)+len(diskResp.Pairs))
	pairs = append(pairs, memResp.Pairs...)
	pairs = append(pairs, diskResp.Pairs...)
	return message.GetGroupResponse{ID: req.ID, Pairs: pairs}, nil
}

// handleDeleteKey deletes from both tiers in parallel and sums the counts.
func (c *Coordinator) handleDeleteKey(req message.DeleteKeyRequest) (message.DeleteKeyResponse, error) {
	if req.Key == "" {
		return message.DeleteKeyResponse{}, fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	memFut, err := bus.Dispatch[message.DeleteKeyResponse](c.bus, bus.MemoryTier, req)
	if err != nil {
		return message.DeleteKeyResponse{}, err
	}
	diskFut, err := bus.Dispatch[message.DeleteKeyResponse](c.bus, bus.DiskTier, req)
	if err != nil {
		return message.DeleteKeyResponse{}, err
	}

	memResp, err := memFut.Wait()
	if err != nil {
		return message.DeleteKeyResponse{}, err
	}
	diskResp, err := diskFut.Wait()
	if err != nil {
		return message.DeleteKeyResponse{}, err
	}

	return message.DeleteKeyResponse{ID: req.ID, Count: memResp.Count + diskResp.Count}, nil
}

// handleDeleteGroup deletes from both tiers in parallel and sums the counts.
func (c *Coordinator) handleDeleteGroup(req message.DeleteGroupRequest) (message.DeleteGroupResponse, error) {
	if req.Group == "" {
		return message.DeleteGroupResponse{}, fmt.Errorf("%w: group must be non-empty", ErrInvalidArgument)
	}

	memFut, err := bus.Dispatch[message.DeleteGroupResponse](c.bus, bus.MemoryTier, req)
	if err != nil {
		return message.DeleteGroupResponse{}, err
	}
	diskFut, err := bus.Dispatch[message.DeleteGroupResponse](c.bus, bus.DiskTier, req)
	if err != nil {
		return message.DeleteGroupResponse{}, err
	}

	memResp, err := memFut.Wait()
	if err != nil {
		return message.DeleteGroupResponse{}, err
	}
	diskResp, err := diskFut.Wait()
	if err != nil {
		return message.DeleteGroupResponse{}, err
	}

	return message.DeleteGroupResponse{ID: req.ID, Count: memResp.Count + diskResp.Count}, nil
}

// handleList lists both tiers in parallel, memory entries first.
func (c *Coordinator) handleList(req message.ListRequest) (message.ListResponse, error) {
	memFut, err := bus.Dispatch[message.ListResponse](c.bus, bus.MemoryTier, req)
	if err != nil {
		return message.ListResponse{}, err
	}
	diskFut, err := bus.Dispatch[message.ListResponse](c.bus, bus.DiskTier, req)
	if err != nil {
		return message.ListResponse{}, err
	}

	memResp, err := memFut.Wait()
	if err != nil {
		return message.ListResponse{}, err
	}
	diskResp, err := diskFut.Wait()
	if err != nil {
		return message.ListResponse{}, err
	}

	entries := make([]message.Entry, 0, len(memResp.Entries)+len(diskResp.Entries))
	entries = append(entries, memResp.Entries...)
	entries = append(entries, diskResp.Entries...)
	return message.ListResponse{ID: req.ID, Entries: entries}, nil
}
