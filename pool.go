package weave

import (
	"fmt"
	"math/rand"
)

// Node is one candidate server endpoint in the pool.
type Node struct {
	Host string
	Port int
}

func (n Node) String() string {
	port := n.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", n.Host, port)
}

// nodePool is the ordered candidate list plus a current index, advanced
// mod length on every connect attempt and initialized uniformly at
// random.
type nodePool struct {
	nodes []Node
	index int
}

func newNodePool(nodes []Node) (*nodePool, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("weave: node pool must contain at least one node")
	}
	cp := make([]Node, len(nodes))
	copy(cp, nodes)
	return &nodePool{
		nodes: cp,
		index: rand.Intn(len(cp)),
	}, nil
}

// next returns the node at the current index, then advances the index
// modulo the pool length.
func (p *nodePool) next() Node {
	n := p.nodes[p.index]
	p.index = (p.index + 1) % len(p.nodes)
	return n
}

func (p *nodePool) len() int { return len(p.nodes) }
