package pcode

// buildMemset implements memset(addr, byte, n) as a byte store loop and
// returns addr.
func buildMemset(ctx *TranslationContext, fn *Function, entry *Block) error {
	g, abi := ctx.Graph(), ctx.ABI()
	ram := ctx.spaces[SpaceNameRAM]

	var args [3]Expr
	ret0, err := abi.ReturnRegister(0)
	if err != nil {
		return err
	}

	test := g.newBlock("memset loop test")
	body := g.newBlock("memset loop body")
	exit := g.newBlock("memset function epilogue")
	for _, b := range []*Block{test, body, exit} {
		b.Function = fn.Name
	}

	idx := g.newReg("memset.idx", g.AddrWidth, false)
	end := g.newReg("memset.end", g.AddrWidth, false)
	value := g.newReg("memset.byte", Width8, false)

	// Entry: read arguments and set the return value.
	w := newBlockWriter(g, entry)
	for i := range args {
		reg, err := abi.ArgumentRegister(i)
		if err != nil {
			return err
		}
		args[i] = ctx.readRegister(w, reg, abi.AddrBytes)
	}
	ctx.writeRegister(w, ret0, args[0])
	w.write(idx, args[0])
	w.write(end, NewBinaryExpr(ADD, args[0], args[2]))
	w.write(value, NewExtractExpr(args[1], 0, Width8))
	w.jump(test)

	// Loop while idx < end.
	w = newBlockWriter(g, test)
	w.branch(NewBinaryExpr(ULT, w.read(idx), w.read(end)), body, exit)

	w = newBlockWriter(g, body)
	if err := ram.storeIndirect(w, w.read(idx), w.read(value)); err != nil {
		return err
	}
	w.write(idx, NewBinaryExpr(ADD, w.read(idx), NewConstantExpr(1, g.AddrWidth)))
	w.jump(test)

	// Return to the caller through the link register or the stack.
	w = newBlockWriter(g, exit)
	var retAddr Expr
	if lr, ok := abi.LinkRegister(); ok {
		retAddr = ctx.readRegister(w, lr, abi.AddrBytes)
	} else {
		sp := ctx.readRegister(w, abi.StackRegister(), abi.AddrBytes)
		if retAddr, err = ram.loadIndirect(w, sp, abi.AddrBytes); err != nil {
			return err
		}
		sp = NewBinaryExpr(ADD, sp, NewConstantExpr(uint64(abi.AddrBytes), g.AddrWidth))
		ctx.writeRegister(w, abi.StackRegister(), sp)
	}
	w.write(g.PC, retAddr)
	w.jump(g.Trampoline)
	return nil
}
