// Package snowflake 產生趨勢遞增的 64-bit ID，用作房間識別碼
//
// 結構：
//
//	1 bit | 41 bit        | 10 bit  | 12 bit
//	0     | 毫秒時間戳     | 節點 ID  | 序列號
//
// 房間 ID 需要在行程內唯一，並且在多實例部署時不互相碰撞，
// 節點 ID 由配置指定。
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

var (
	// ErrInvalidNodeID 節點 ID 超出範圍
	ErrInvalidNodeID = errors.New("node ID must be between 0 and 1023")

	// ErrClockMovedBackwards 時鐘回撥
	ErrClockMovedBackwards = errors.New("clock moved backwards, refusing to generate ID")
)

// Node 單一節點的 ID 生成器，併發安全
type Node struct {
	mu            sync.Mutex
	nodeID        int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
}

// NewNode 創建生成器
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidNodeID, nodeID)
	}
	return &Node{nodeID: nodeID, now: time.Now}, nil
}

// Generate 生成下一個 ID
//
// 同一毫秒內序列號遞增，用盡時自旋到下一毫秒；時鐘回撥直接報錯，
// 避免產生重複 ID。
func (n *Node) Generate() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts := n.millis()
	if ts < n.lastTimestamp {
		return 0, fmt.Errorf("%w: last=%d, current=%d", ErrClockMovedBackwards, n.lastTimestamp, ts)
	}

	if ts == n.lastTimestamp {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			for ts <= n.lastTimestamp {
				ts = n.millis()
			}
		}
	} else {
		n.sequence = 0
	}
	n.lastTimestamp = ts

	return ((ts - epoch) << timestampShift) | (n.nodeID << nodeShift) | n.sequence, nil
}

// Parse 拆解 ID 的組成部分（除錯與日誌用）
func Parse(id int64) (createdAt time.Time, nodeID, sequence int64) {
	ms := (id >> timestampShift) + epoch
	return time.UnixMilli(ms), (id >> nodeShift) & maxNodeID, id & maxSequence
}

func (n *Node) millis() int64 {
	return n.now().UnixMilli()
}
