package validator

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/brojonat/dispenser/service/solana"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// InstructionKind identifies a decoded instruction.
type InstructionKind int

const (
	KindUnknown InstructionKind = iota
	KindRequestUnitsDeprecated
	KindRequestHeapFrame
	KindSetComputeUnitLimit
	KindSetComputeUnitPrice
	KindSetLoadedAccountsDataSizeLimit
)

func (k InstructionKind) String() string {
	switch k {
	case KindRequestUnitsDeprecated:
		return "RequestUnitsDeprecated"
	case KindRequestHeapFrame:
		return "RequestHeapFrame"
	case KindSetComputeUnitLimit:
		return "SetComputeUnitLimit"
	case KindSetComputeUnitPrice:
		return "SetComputeUnitPrice"
	case KindSetLoadedAccountsDataSizeLimit:
		return "SetLoadedAccountsDataSizeLimit"
	default:
		return "Unknown"
	}
}

// Compute budget instruction tags (first byte of the payload).
const (
	computeBudgetTagRequestUnits             = 0
	computeBudgetTagRequestHeapFrame         = 1
	computeBudgetTagSetComputeUnitLimit      = 2
	computeBudgetTagSetComputeUnitPrice      = 3
	computeBudgetTagSetLoadedAccountsDataLim = 4
)

// DecodedInstruction is the structured form of an instruction payload.
// Only the fields relevant to Kind are populated.
type DecodedInstruction struct {
	Kind          InstructionKind
	Units         uint32 // SetComputeUnitLimit
	MicroLamports uint64 // SetComputeUnitPrice
}

// InstructionDecoder turns a (program, payload) pair into a DecodedInstruction.
type InstructionDecoder interface {
	Decode(programID solanago.PublicKey, data []byte) (DecodedInstruction, error)
}

// ErrUnsupportedProgram is returned by decoders asked about a program they do not know.
var ErrUnsupportedProgram = errors.New("unsupported program")

// ComputeBudgetDecoder decodes compute budget program instructions.
type ComputeBudgetDecoder struct{}

// Decode implements InstructionDecoder. Payloads must be exactly the size of
// their variant; trailing bytes are treated as malformed.
func (ComputeBudgetDecoder) Decode(programID solanago.PublicKey, data []byte) (DecodedInstruction, error) {
	if !programID.Equals(solana.ComputeBudgetProgramID) {
		return DecodedInstruction{}, fmt.Errorf("%s: %w", programID, ErrUnsupportedProgram)
	}

	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint8()
	if err != nil {
		return DecodedInstruction{}, fmt.Errorf("read compute budget tag: %w", err)
	}

	var out DecodedInstruction
	switch tag {
	case computeBudgetTagRequestUnits:
		out.Kind = KindRequestUnitsDeprecated
		_, err = dec.ReadUint64(binary.LittleEndian) // units u32 + additional fee u32
	case computeBudgetTagRequestHeapFrame:
		out.Kind = KindRequestHeapFrame
		_, err = dec.ReadUint32(binary.LittleEndian)
	case computeBudgetTagSetComputeUnitLimit:
		out.Kind = KindSetComputeUnitLimit
		out.Units, err = dec.ReadUint32(binary.LittleEndian)
	case computeBudgetTagSetComputeUnitPrice:
		out.Kind = KindSetComputeUnitPrice
		out.MicroLamports, err = dec.ReadUint64(binary.LittleEndian)
	case computeBudgetTagSetLoadedAccountsDataLim:
		out.Kind = KindSetLoadedAccountsDataSizeLimit
		_, err = dec.ReadUint32(binary.LittleEndian)
	default:
		return DecodedInstruction{}, fmt.Errorf("unknown compute budget tag %d", tag)
	}
	if err != nil {
		return DecodedInstruction{}, fmt.Errorf("decode %s: %w", out.Kind, err)
	}
	if dec.Remaining() != 0 {
		return DecodedInstruction{}, fmt.Errorf("decode %s: %d trailing bytes", out.Kind, dec.Remaining())
	}
	return out, nil
}
