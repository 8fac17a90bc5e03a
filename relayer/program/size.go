package program

// MaxTransactionSize is the ledger's packet limit for a serialized transaction
const MaxTransactionSize = 1232

const (
	signatureLen = 64
	keyLen       = 32
	headerLen    = 3

	computeUnitLimitDataLen = 5 // [2] + u32
	computeUnitPriceDataLen = 9 // [3] + u64
)

// Envelope describes the compute budget instructions the submission path
// prepends to a program instruction. Both live on the compute budget
// program and reference no accounts.
type Envelope struct {
	ComputeUnitLimit bool
	ComputeUnitPrice bool
}

func (e Envelope) extraData() []int {
	var out []int
	if e.ComputeUnitLimit {
		out = append(out, computeUnitLimitDataLen)
	}
	if e.ComputeUnitPrice {
		out = append(out, computeUnitPriceDataLen)
	}
	return out
}

// shape is the wire footprint of an instruction that carries participants
type shape struct {
	metas          int // account metas before the participants
	data           int // discriminator plus fixed arguments
	perParticipant int // argument bytes added per participant
}

func shapeOf(name string) shape {
	switch name {
	case SendBonusToWinners:
		return shape{metas: 4, data: 8}
	case RefundBatch:
		return shape{metas: 3, data: 8 + 4, perParticipant: keyLen}
	case SetWinnersList:
		return shape{metas: 2, data: 8 + 4, perParticipant: keyLen}
	default:
		return shape{metas: FixedAccounts(name) - 1, data: 8}
	}
}

// TransactionSize is the serialized size of a transaction signed by a single
// key that is both fee payer and owner, carrying instruction name with n
// distinct participant accounts inside env. Only participant lists are
// counted as arguments.
func TransactionSize(name string, n int, env Envelope) int {
	sh := shapeOf(name)
	extra := env.extraData()

	accounts := FixedAccounts(name) + n
	if len(extra) > 0 {
		accounts++
	}

	size := compactLen(1) + signatureLen + headerLen
	size += compactLen(accounts) + accounts*keyLen
	size += keyLen // recent blockhash
	size += compactLen(len(extra) + 1)
	for _, d := range extra {
		size += 1 + compactLen(0) + compactLen(d) + d
	}

	metas := sh.metas + n
	data := sh.data + sh.perParticipant*n
	size += 1 + compactLen(metas) + metas + compactLen(data) + data
	return size
}

// MaxParticipants is the largest participant count for name that stays
// within both maxAccounts distinct accounts and the packet limit
func MaxParticipants(name string, maxAccounts int, env Envelope) int {
	n := maxAccounts - FixedAccounts(name)
	if len(env.extraData()) > 0 {
		n--
	}
	for n > 0 && TransactionSize(name, n, env) > MaxTransactionSize {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// compactLen is the length of v in the ledger's compact-u16 encoding
func compactLen(v int) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	default:
		return 3
	}
}
