package record

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// Record program instruction indexes.
const (
	instructionInitialize   uint8 = 0
	instructionWrite        uint8 = 1
	instructionCloseAccount uint8 = 3
)

// MaxWriteChunk bounds the payload bytes per Write instruction so a
// single-instruction transaction stays under the 1232-byte packet limit.
const MaxWriteChunk = 900

// systemCreateAccountWithSeed is the system program instruction index for
// CreateAccountWithSeed.
const systemCreateAccountWithSeed uint32 = 3

// BuildReserveInstructions returns the instruction pair that allocates a
// record account of exactly the given payload size: a system-program
// create-with-seed for header+payload bytes, followed by the record
// program's initialize.
func BuildReserveInstructions(
	programID solana.PublicKey,
	authority solana.PublicKey,
	recordKey solana.PublicKey,
	seeds [][]byte,
	payloadLen int,
	rentLamports uint64,
) ([]solana.Instruction, error) {
	space := uint64(HeaderSize + payloadLen)

	seedStr := SeedString(seeds)
	data := make([]byte, 0, 4+32+8+len(seedStr)+8+8+32)
	data = binary.LittleEndian.AppendUint32(data, systemCreateAccountWithSeed)
	data = append(data, authority.Bytes()...)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(seedStr)))
	data = append(data, seedStr...)
	data = binary.LittleEndian.AppendUint64(data, rentLamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, programID.Bytes()...)

	createIx := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(authority).SIGNER().WRITE(),
		solana.Meta(recordKey).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, data)

	initData, err := borsh.Serialize(struct {
		Discriminator uint8
	}{
		Discriminator: instructionInitialize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize initialize args: %w", err)
	}
	initIx := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(recordKey).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, initData)

	return []solana.Instruction{createIx, initIx}, nil
}

// BuildWriteInstruction writes a chunk of payload bytes at the given
// payload offset.
func BuildWriteInstruction(
	programID solana.PublicKey,
	authority solana.PublicKey,
	recordKey solana.PublicKey,
	offset uint64,
	chunk []byte,
) (solana.Instruction, error) {
	if len(chunk) > MaxWriteChunk {
		return nil, fmt.Errorf("chunk of %d bytes exceeds max %d", len(chunk), MaxWriteChunk)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
		Offset        uint64
		Data          []byte
	}{
		Discriminator: instructionWrite,
		Offset:        offset,
		Data:          chunk,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize write args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(recordKey).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, data), nil
}

// BuildCloseInstruction closes the record account, refunding its lamports
// to the receiver.
func BuildCloseInstruction(
	programID solana.PublicKey,
	authority solana.PublicKey,
	recordKey solana.PublicKey,
	receiver solana.PublicKey,
) (solana.Instruction, error) {
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{
		Discriminator: instructionCloseAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize close args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(recordKey).WRITE(),
		solana.Meta(authority).SIGNER(),
		solana.Meta(receiver).WRITE(),
	}, data), nil
}
