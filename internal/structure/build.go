package structure

// NewTextBlock returns a paragraph block with segmentation filled in.
func NewTextBlock(id, text string) TextBlock {
	b := TextBlock{ID: id, Type: BlockParagraph, Confidence: 1}
	b.SetText(text)
	return b
}

// NewPage returns a page whose reading order follows the given block order.
func NewPage(number int, blocks ...TextBlock) Page {
	p := Page{Number: number, TextBlocks: blocks, Confidence: 1}
	p.ReadingOrder.BlockIDs = make([]string, 0, len(blocks))
	for i := range p.TextBlocks {
		p.TextBlocks[i].ReadingOrder = i
		p.ReadingOrder.BlockIDs = append(p.ReadingOrder.BlockIDs, p.TextBlocks[i].ID)
	}
	p.ReadingOrder.Columns = 1
	return p
}

// Resegment recomputes segmentation for every text block.
func (s *Structure) Resegment() {
	for i := range s.Pages {
		for j := range s.Pages[i].TextBlocks {
			s.Pages[i].TextBlocks[j].Segment()
		}
	}
}
