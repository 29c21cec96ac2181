package message

// A Block is the decoded form of a Block1/Block2 option value:
// (num << 4) | (more << 3) | szx, where the block size is 2^(szx+4).
// SZX 7 is the BERT marker (RFC 8323): a 1024-byte block size with
// oversized aggregates permitted.
type Block struct {
	BlockNumber int
	MoreBlocks  bool
	BlockSize   int
	BERT        bool
}

const (
	MinBlockSize  = 16
	MaxBlockSize  = 1024
	bertSZX       = 7
	BERTBlockSize = 1024
)

func NewBlock(moreBlocks bool, num, size int) *Block {
	return &Block{
		BlockNumber: num,
		BlockSize:   size,
		MoreBlocks:  moreBlocks,
	}
}

func NewBertBlock(moreBlocks bool, num int) *Block {
	return &Block{
		BlockNumber: num,
		BlockSize:   BERTBlockSize,
		MoreBlocks:  moreBlocks,
		BERT:        true,
	}
}

func NewBlockFromInt(blockValue int) *Block {
	block := &Block{}
	block.FromInt(blockValue)
	return block
}

func (block *Block) ToInt() int {
	szx := bertSZX
	if !block.BERT {
		szx = ComputeSZX(block.BlockSize)
		if szx < 0 {
			return 0
		}
	}

	m := 0
	if block.MoreBlocks {
		m = 1
	}

	return block.BlockNumber<<4 | m<<3 | szx
}

func (block *Block) FromInt(blockValue int) {
	szx := blockValue & 7

	block.BlockNumber = blockValue >> 4
	block.MoreBlocks = blockValue&8 != 0

	if szx == bertSZX {
		block.BERT = true
		block.BlockSize = BERTBlockSize
		return
	}

	block.BlockSize = 1 << (szx + 4)
}

// ComputeSZX encodes a block size into its 3-bit SZX value
// (16 bytes -> 0 ... 1024 bytes -> 6); -1 for a size that is not an
// exact power of two in range.
func ComputeSZX(blockSize int) int {
	for szx := 0; szx <= 6; szx++ {
		if 1<<(szx+4) == blockSize {
			return szx
		}
	}
	return -1
}

// NegotiateBlockSize returns the block size both peers accept: the
// smaller of the two declared maxima, floored at the protocol minimum.
func NegotiateBlockSize(local, remote int) int {
	size := local
	if remote > 0 && remote < size {
		size = remote
	}
	if size < MinBlockSize {
		size = MinBlockSize
	}
	if size > MaxBlockSize {
		size = MaxBlockSize
	}
	// Round down to a power of two.
	for ComputeSZX(size) < 0 {
		size--
	}
	return size
}
