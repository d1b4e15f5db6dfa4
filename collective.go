package orcs

// collective.go brings up the collective group of worker processes and
// implements the small set of collectives the driver needs: broadcast,
// gather, and dense-array allreduce.  The group is a star rooted at rank
// 0: rank 0 listens, every other rank dials in and identifies itself with
// its rank.  All collectives are globally ordered, every member calls
// every collective in the same program order, so a plain gob stream per
// connection carries them without any framing protocol.

import (
	"encoding/gob"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// dialRetryInterval paces the connection attempts of non-root ranks while
// the root's listener comes up.
const dialRetryInterval = 100 * time.Millisecond

type commHello struct {
	Rank int
}

type commPeer struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

// Comm is one member's view of the collective group.
type Comm struct {
	rank int
	size int

	peers []commPeer // root only: indexed by rank, entry 0 unused
	root  commPeer   // non-root only: the connection to rank 0
}

// Rank returns this member's rank in [0, Size).
func (comm *Comm) Rank() int { return comm.rank }

// Size returns the number of group members.
func (comm *Comm) Size() int { return comm.size }

// Root reports whether this member is rank 0.
func (comm *Comm) Root() bool { return comm.rank == 0 }

// InitComm forms the collective group.  Rank 0 listens on groupAddr and
// waits for the other size-1 members; every other rank dials groupAddr,
// retrying until the root is reachable or the timeout passes.  A group of
// size 1 needs no network at all.
func InitComm(rank, size int, groupAddr string, timeout time.Duration) (*Comm, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size %d must be at least 1", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d outside group of size %d", rank, size)
	}
	comm := &Comm{rank: rank, size: size}
	if size == 1 {
		return comm, nil
	}

	if rank == 0 {
		listener, err := net.Listen("tcp", groupAddr)
		if err != nil {
			return nil, fmt.Errorf("group listen on %s failed: %w", groupAddr, err)
		}
		defer listener.Close()

		comm.peers = make([]commPeer, size)
		joined := 0
		for joined < size-1 {
			conn, err := listener.Accept()
			if err != nil {
				return nil, fmt.Errorf("group accept failed: %w", err)
			}
			peer := commPeer{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
			var hello commHello
			if err := peer.dec.Decode(&hello); err != nil {
				return nil, fmt.Errorf("group handshake failed: %w", err)
			}
			if hello.Rank <= 0 || hello.Rank >= size || comm.peers[hello.Rank].conn != nil {
				return nil, fmt.Errorf("group handshake carried invalid rank %d", hello.Rank)
			}
			comm.peers[hello.Rank] = peer
			joined += 1
		}
		return comm, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("tcp", groupAddr)
		if err == nil {
			comm.root = commPeer{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rank %d could not reach group root at %s: %w", rank, groupAddr, err)
		}
		time.Sleep(dialRetryInterval)
	}
	if err := comm.root.enc.Encode(commHello{Rank: rank}); err != nil {
		return nil, fmt.Errorf("group handshake failed: %w", err)
	}
	return comm, nil
}

// Close tears the group's connections down.
func (comm *Comm) Close() {
	for _, peer := range comm.peers {
		if peer.conn != nil {
			peer.conn.Close()
		}
	}
	if comm.root.conn != nil {
		comm.root.conn.Close()
	}
}

// Abort prints a rank-0 diagnostic and tears the group down.  The broken
// connections surface as collective failures on the other members.
func (comm *Comm) Abort(msg string) {
	if comm.Root() {
		logrus.Error(msg)
	}
	comm.Close()
}

// bcast ships one gob value from the root to every member.
func bcast[T any](comm *Comm, val *T) error {
	if comm.size == 1 {
		return nil
	}
	if comm.Root() {
		for rank := 1; rank < comm.size; rank++ {
			if err := comm.peers[rank].enc.Encode(val); err != nil {
				return fmt.Errorf("broadcast to rank %d failed: %w", rank, err)
			}
		}
		return nil
	}
	return comm.root.dec.Decode(val)
}

// BroadcastBytes distributes an opaque byte buffer from the root.
func (comm *Comm) BroadcastBytes(buf *[]byte) error {
	return bcast(comm, buf)
}

// BroadcastStrings distributes a namelist from the root.
func (comm *Comm) BroadcastStrings(names *[]string) error {
	return bcast(comm, names)
}

// BroadcastUint64s distributes a GUID list from the root.
func (comm *Comm) BroadcastUint64s(guids *[]uint64) error {
	return bcast(comm, guids)
}

// BroadcastInt distributes a scalar from the root.
func (comm *Comm) BroadcastInt(val *int) error {
	return bcast(comm, val)
}

// GatherFloat64s collects every member's vector at the root.  The root's
// result is ordered rank-major: rank 0's values first, then rank 1's, and
// so on.  Non-root members receive nil.
func (comm *Comm) GatherFloat64s(local []float64) ([]float64, error) {
	if comm.size == 1 {
		return local, nil
	}
	if !comm.Root() {
		if err := comm.root.enc.Encode(local); err != nil {
			return nil, fmt.Errorf("gather send failed: %w", err)
		}
		return nil, nil
	}

	gathered := append([]float64{}, local...)
	for rank := 1; rank < comm.size; rank++ {
		var part []float64
		if err := comm.peers[rank].dec.Decode(&part); err != nil {
			return nil, fmt.Errorf("gather from rank %d failed: %w", rank, err)
		}
		gathered = append(gathered, part...)
	}
	return gathered, nil
}

// GatherInts collects every member's integer vector at the root,
// rank-major like GatherFloat64s.
func (comm *Comm) GatherInts(local []int) ([][]int, error) {
	if comm.size == 1 {
		return [][]int{local}, nil
	}
	if !comm.Root() {
		if err := comm.root.enc.Encode(local); err != nil {
			return nil, fmt.Errorf("gather send failed: %w", err)
		}
		return nil, nil
	}

	gathered := make([][]int, comm.size)
	gathered[0] = local
	for rank := 1; rank < comm.size; rank++ {
		var part []int
		if err := comm.peers[rank].dec.Decode(&part); err != nil {
			return nil, fmt.Errorf("gather from rank %d failed: %w", rank, err)
		}
		gathered[rank] = part
	}
	return gathered, nil
}

// AllreduceMaxInt reduces a scalar with max and returns the result on
// every member.
func (comm *Comm) AllreduceMaxInt(local int) (int, error) {
	parts, err := comm.GatherInts([]int{local})
	if err != nil {
		return 0, err
	}
	max := local
	if comm.Root() {
		for _, part := range parts {
			if len(part) > 0 && part[0] > max {
				max = part[0]
			}
		}
	}
	if err := comm.BroadcastInt(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// AllreduceSumInts reduces equal-length integer arrays element-wise with
// sum and returns the result on every member.
func (comm *Comm) AllreduceSumInts(local []int) ([]int, error) {
	parts, err := comm.GatherInts(local)
	if err != nil {
		return nil, err
	}
	summed := local
	if comm.Root() {
		summed = make([]int, len(local))
		for _, part := range parts {
			if len(part) != len(local) {
				return nil, fmt.Errorf("allreduce length mismatch: %d vs %d", len(part), len(local))
			}
			for idx, val := range part {
				summed[idx] += val
			}
		}
	}
	if err := bcast(comm, &summed); err != nil {
		return nil, err
	}
	return summed, nil
}

// AllreduceCongMap reduces a sparse integer map with element-wise sum by
// the dense-array protocol: allreduce the maximum key, size fixed-width
// arrays to it, reduce-sum, and reinsert the non-zero entries.
func (comm *Comm) AllreduceCongMap(ccm *CableCongMap) error {
	gmax, err := comm.AllreduceMaxInt(ccm.MaxKey())
	if err != nil {
		return err
	}
	if gmax < 0 {
		return nil
	}
	field, err := comm.AllreduceSumInts(ccm.ToDense(gmax + 1))
	if err != nil {
		return err
	}
	*ccm = *NewCableCongMap()
	ccm.SetFromDense(field)
	return nil
}
