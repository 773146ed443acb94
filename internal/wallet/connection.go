package wallet

import (
	"sync"

	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the connected wallet account.
type Identity struct {
	Address  common.Address
	ChainID  uint64
	IsSigner bool
}

// Connection is the shared, mutex-guarded wallet state. Its epoch increases on
// every account change, chain change and disconnect; anything that must not
// survive such a change (a pending confirmation wait, a resolved session)
// captures the epoch and compares it later.
type Connection struct {
	mu       sync.RWMutex
	identity *Identity
	epoch    uint64
}

// NewConnection returns an empty connection at epoch 0.
func NewConnection() *Connection {
	return &Connection{}
}

// Identity returns a copy of the current identity.
func (c *Connection) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Signer returns the active signer and the epoch it belongs to.
func (c *Connection) Signer() (Identity, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil || !c.identity.IsSigner {
		return Identity{}, c.epoch, failure.New(failure.KindSignerRequired, "wallet.signer", "")
	}
	return *c.identity, c.epoch, nil
}

// Epoch returns the current epoch.
func (c *Connection) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// setSigner installs addr as the signer. The epoch moves only if the address
// or chain actually changed.
func (c *Connection) setSigner(addr common.Address, chainID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil && c.identity.IsSigner && c.identity.Address == addr && c.identity.ChainID == chainID {
		return c.epoch
	}
	c.identity = &Identity{Address: addr, ChainID: chainID, IsSigner: true}
	c.epoch++
	return c.epoch
}

// dropSigner keeps the address but removes signing capability, used on a
// chain change: the account is still known but must be re-acquired.
func (c *Connection) dropSigner(chainID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		c.identity = &Identity{Address: c.identity.Address, ChainID: chainID}
	}
	c.epoch++
	return c.epoch
}

// reset clears the identity.
func (c *Connection) reset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.epoch++
	return c.epoch
}
