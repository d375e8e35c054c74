package validator

import (
	"testing"

	"github.com/brojonat/dispenser/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBudgetDecoder(t *testing.T) {
	dec := ComputeBudgetDecoder{}

	tests := []struct {
		name    string
		data    []byte
		want    DecodedInstruction
		wantErr bool
	}{
		{
			name: "set compute unit limit",
			data: []byte{2, 0x40, 0x0d, 0x03, 0x00},
			want: DecodedInstruction{Kind: KindSetComputeUnitLimit, Units: 200_000},
		},
		{
			name: "set compute unit price",
			data: []byte{3, 0x88, 0x13, 0, 0, 0, 0, 0, 0},
			want: DecodedInstruction{Kind: KindSetComputeUnitPrice, MicroLamports: 5000},
		},
		{
			name: "heap frame",
			data: []byte{1, 0, 0x80, 0, 0},
			want: DecodedInstruction{Kind: KindRequestHeapFrame},
		},
		{
			name: "deprecated request units",
			data: []byte{0, 1, 0, 0, 0, 2, 0, 0, 0},
			want: DecodedInstruction{Kind: KindRequestUnitsDeprecated},
		},
		{
			name: "loaded accounts data size",
			data: []byte{4, 0, 0, 1, 0},
			want: DecodedInstruction{Kind: KindSetLoadedAccountsDataSizeLimit},
		},
		{name: "empty", data: nil, wantErr: true},
		{name: "unknown tag", data: []byte{9, 0, 0, 0, 0}, wantErr: true},
		{name: "short price", data: []byte{3, 1, 2}, wantErr: true},
		{name: "trailing bytes", data: []byte{2, 1, 0, 0, 0, 7}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dec.Decode(solana.ComputeBudgetProgramID, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeBudgetDecoder_WrongProgram(t *testing.T) {
	_, err := ComputeBudgetDecoder{}.Decode(solana.Ed25519ProgramID, []byte{2, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnsupportedProgram)
}

func TestInstructionKind_String(t *testing.T) {
	assert.Equal(t, "SetComputeUnitPrice", KindSetComputeUnitPrice.String())
	assert.Equal(t, "Unknown", InstructionKind(42).String())
}
