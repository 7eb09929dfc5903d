// Package filter defines the immutable description of which records a
// subscription matches: an optional contract address, ordered per-position
// topic constraints and a block range. A Filter is pure data; its only
// behavior is structural equality and the mapping onto the node's log-query
// wire shape.
package filter

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// MaxTopics is the maximum number of indexed topic positions an EVM log
// carries.
const MaxTopics = 4

// TopicConstraint restricts one topic position. The zero value matches any
// topic. A constraint built with Topic matches exactly one value; one built
// with OneOfTopics matches any value of the set.
type TopicConstraint struct {
	values []common.Hash
}

// AnyTopic matches any value at its position.
func AnyTopic() TopicConstraint {
	return TopicConstraint{}
}

// Topic matches exactly the given value.
func Topic(v common.Hash) TopicConstraint {
	return TopicConstraint{values: []common.Hash{v}}
}

// OneOfTopics matches any of the given values. The set is canonicalized
// (sorted, deduplicated) so that structurally equal sets compare equal.
func OneOfTopics(vs ...common.Hash) TopicConstraint {
	values := make([]common.Hash, len(vs))
	copy(values, vs)
	sort.Slice(values, func(i, j int) bool {
		return bytes.Compare(values[i][:], values[j][:]) < 0
	})
	// drop duplicates
	out := values[:0]
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			out = append(out, v)
		}
	}
	return TopicConstraint{values: out}
}

// IsAny reports whether the constraint matches any topic.
func (c TopicConstraint) IsAny() bool { return len(c.values) == 0 }

// Values returns a copy of the accepted values; empty means any.
func (c TopicConstraint) Values() []common.Hash {
	out := make([]common.Hash, len(c.values))
	copy(out, c.values)
	return out
}

// Matches reports whether the constraint accepts the given topic value.
func (c TopicConstraint) Matches(v common.Hash) bool {
	if c.IsAny() {
		return true
	}
	for _, want := range c.values {
		if want == v {
			return true
		}
	}
	return false
}

func (c TopicConstraint) equal(o TopicConstraint) bool {
	if len(c.values) != len(o.values) {
		return false
	}
	for i := range c.values {
		if c.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

func (c TopicConstraint) String() string {
	if c.IsAny() {
		return "*"
	}
	hexes := make([]string, len(c.values))
	for i, v := range c.values {
		hexes[i] = v.Hex()
	}
	return strings.Join(hexes, "|")
}

// Filter is an immutable record-selection description. Construct with New;
// the zero value matches every record from the latest block onward.
type Filter struct {
	address *common.Address
	topics  []TopicConstraint
	from    gethrpc.BlockNumber
	to      gethrpc.BlockNumber
}

// Option configures a Filter under construction.
type Option func(*Filter)

// WithAddress restricts the filter to records emitted by addr.
func WithAddress(addr common.Address) Option {
	return func(f *Filter) { f.address = &addr }
}

// WithTopics sets the ordered topic constraints.
func WithTopics(constraints ...TopicConstraint) Option {
	return func(f *Filter) { f.topics = constraints }
}

// WithFromBlock sets the lower bound of the block range. Use a literal block
// number, gethrpc.LatestBlockNumber or gethrpc.PendingBlockNumber.
func WithFromBlock(n gethrpc.BlockNumber) Option {
	return func(f *Filter) { f.from = n }
}

// WithToBlock sets the upper bound of the block range.
func WithToBlock(n gethrpc.BlockNumber) Option {
	return func(f *Filter) { f.to = n }
}

// New builds a Filter. It fails if more than MaxTopics constraints are given
// or if a numeric range is inverted.
func New(opts ...Option) (Filter, error) {
	f := Filter{
		from: gethrpc.LatestBlockNumber,
		to:   gethrpc.LatestBlockNumber,
	}
	for _, opt := range opts {
		opt(&f)
	}

	if len(f.topics) > MaxTopics {
		return Filter{}, fmt.Errorf("too many topic constraints: %d (max %d)", len(f.topics), MaxTopics)
	}
	if f.from >= 0 && f.to >= 0 && f.from > f.to {
		return Filter{}, fmt.Errorf("inverted block range: from %d to %d", f.from, f.to)
	}

	return f, nil
}

// Address returns the address constraint, or nil if the filter matches every
// address.
func (f Filter) Address() *common.Address {
	if f.address == nil {
		return nil
	}
	addr := *f.address
	return &addr
}

// Topics returns a copy of the ordered topic constraints.
func (f Filter) Topics() []TopicConstraint {
	out := make([]TopicConstraint, len(f.topics))
	copy(out, f.topics)
	return out
}

// FromBlock returns the lower range bound.
func (f Filter) FromBlock() gethrpc.BlockNumber { return f.from }

// ToBlock returns the upper range bound.
func (f Filter) ToBlock() gethrpc.BlockNumber { return f.to }

// Equal reports structural equality.
func (f Filter) Equal(o Filter) bool {
	if (f.address == nil) != (o.address == nil) {
		return false
	}
	if f.address != nil && *f.address != *o.address {
		return false
	}
	if f.from != o.from || f.to != o.to {
		return false
	}
	if len(f.topics) != len(o.topics) {
		return false
	}
	for i := range f.topics {
		if !f.topics[i].equal(o.topics[i]) {
			return false
		}
	}
	return true
}

// Key returns a stable textual digest of the filter, suitable as a map key
// or log field. Structurally equal filters share the same key.
func (f Filter) Key() string {
	var sb strings.Builder
	if f.address != nil {
		sb.WriteString(f.address.Hex())
	} else {
		sb.WriteString("*")
	}
	for _, c := range f.topics {
		sb.WriteString("/")
		sb.WriteString(c.String())
	}
	sb.WriteString(fmt.Sprintf("@[%d,%d]", f.from, f.to))
	return sb.String()
}

// ToQuery maps the filter onto the eth_getLogs wire shape. An any-constraint
// becomes a nil topic slot; a one-of set becomes a value list. The optional
// from/to override the filter's own range, which poll sources use to issue
// bounded chunk queries.
func (f Filter) ToQuery(fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	}
	if q.FromBlock == nil && f.from != gethrpc.LatestBlockNumber {
		q.FromBlock = big.NewInt(f.from.Int64())
	}
	if q.ToBlock == nil && f.to != gethrpc.LatestBlockNumber {
		q.ToBlock = big.NewInt(f.to.Int64())
	}
	if f.address != nil {
		q.Addresses = []common.Address{*f.address}
	}
	if len(f.topics) > 0 {
		q.Topics = make([][]common.Hash, len(f.topics))
		for i, c := range f.topics {
			if !c.IsAny() {
				q.Topics[i] = c.Values()
			}
		}
	}
	return q
}
