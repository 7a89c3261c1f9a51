// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package projection

import (
	"context"
	"testing"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typeTable map[string][]string

func (tt typeTable) IsOfType(name, super string) bool {
	for _, s := range tt[name] {
		if s == super {
			return true
		}
	}
	return false
}

// site builds sites > home > {about > team, blog}, with blog typed
// Vendor:Blog and about disabled in de.
func site(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.proj.opts.NodeTypes = typeTable{"Vendor:Blog": {"Vendor:Document"}, "Vendor:Page": {"Vendor:Document"}}

	blog := nodeCreated("blog", "home", "blog", mul, allLanguages())
	blog.NodeTypeName = "Vendor:Blog"
	f.commit(t,
		rootCreated(),
		nodeCreated("home", "sites", "home", mul, allLanguages()),
		nodeCreated("about", "home", "about", mul, allLanguages()),
		nodeCreated("team", "about", "team", mul, allLanguages()),
		blog,
		&events.NodeSpecializationVariantWasCreated{
			NodeAggregateID: "about", NodeID: events.NewNodeID(),
			SourceOrigin: mul, TargetOrigin: en,
			Coverage: dimension.NewPointSet(en), ParentID: "home",
		},
		&events.NodeAggregateWasDisabled{
			NodeAggregateID: "about",
			AffectedPoints:  dimension.NewPointSet(de),
		},
		&events.NodeReferencesWereSet{
			NodeAggregateID: "blog", OriginPoint: mul,
			ReferenceName: "authors", Targets: []events.NodeAggregateID{"team", "about"},
		},
		&events.NodeReferencesWereSet{
			NodeAggregateID: "home", OriginPoint: mul,
			ReferenceName: "featured", Targets: []events.NodeAggregateID{"about"},
		},
	)
	return f
}

func ids(nodes []*Node) []events.NodeAggregateID {
	out := make([]events.NodeAggregateID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.NodeAggregateID)
	}
	return out
}

func TestSubgraph_UnknownStream(t *testing.T) {
	f := newFixture(t)
	_, err := f.proj.Subgraph(context.Background(), "nope", en, Frontend())
	assert.ErrorIs(t, err, ErrUnknownContentStream)
}

func TestSubgraph_QueriesUseViewContext(t *testing.T) {
	f := site(t)
	ctx, cancel := context.WithCancel(context.Background())
	sg, err := f.proj.Subgraph(ctx, f.stream, en, Frontend())
	require.NoError(t, err)

	children, err := sg.FindChildNodes("home", nil, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, children)

	cancel()
	_, err = sg.FindChildNodes("home", nil, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = sg.FindNodeByNodeAggregateIdentifier("home")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubgraph_FindNode(t *testing.T) {
	f := site(t)
	sg := f.subgraph(t, en, Frontend())

	n, err := sg.FindNodeByNodeAggregateIdentifier("about")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.OriginPoint.Equal(en))
	assert.True(t, n.Point.Equal(en))
	assert.Equal(t, "Home", n.Properties["title"])

	byID, err := sg.FindNodeByIdentifier(n.NodeID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, events.NodeAggregateID("about"), byID.NodeAggregateID)

	// The en occurrence is not the one visible in de.
	deView := f.subgraph(t, de, WithoutRestrictions())
	hidden, err := deView.FindNodeByIdentifier(n.NodeID)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	missing, err := sg.FindNodeByNodeAggregateIdentifier("nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = sg.FindNodeByNodeAggregateIdentifier("Not Valid")
	assert.ErrorIs(t, err, events.ErrMalformedIdentifier)
	_, err = sg.FindNodeByIdentifier("zzz")
	assert.ErrorIs(t, err, events.ErrMalformedIdentifier)
}

func TestSubgraph_Visibility(t *testing.T) {
	f := site(t)

	frontend := f.subgraph(t, de, Frontend())
	about, err := frontend.FindNodeByNodeAggregateIdentifier("about")
	require.NoError(t, err)
	assert.Nil(t, about)
	team, err := frontend.FindNodeByNodeAggregateIdentifier("team")
	require.NoError(t, err)
	assert.Nil(t, team, "descendants of disabled nodes are hidden")

	all := f.subgraph(t, de, WithoutRestrictions())
	about, err = all.FindNodeByNodeAggregateIdentifier("about")
	require.NoError(t, err)
	require.NotNil(t, about)
	assert.True(t, about.Disabled)

	// Disabling in de leaves en untouched.
	enView := f.subgraph(t, en, Frontend())
	team, err = enView.FindNodeByNodeAggregateIdentifier("team")
	require.NoError(t, err)
	assert.NotNil(t, team)
}

func TestSubgraph_Children(t *testing.T) {
	f := site(t)
	sg := f.subgraph(t, en, Frontend())

	children, err := sg.FindChildNodes("home", nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []events.NodeAggregateID{"about", "blog"}, ids(children))

	page, err := sg.FindChildNodes("home", NodeTypeFilter{"Vendor:Blog"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []events.NodeAggregateID{"blog"}, ids(page))

	inherited, err := sg.FindChildNodes("home", NodeTypeFilter{"Vendor:Document", "!Vendor:Blog"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []events.NodeAggregateID{"about"}, ids(inherited))

	excluded, err := sg.FindChildNodes("home", NodeTypeFilter{"!Vendor:Page"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []events.NodeAggregateID{"blog"}, ids(excluded))

	paged, err := sg.FindChildNodes("home", nil, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []events.NodeAggregateID{"blog"}, ids(paged))

	past, err := sg.FindChildNodes("home", nil, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, past)

	count, err := sg.CountChildNodes("home", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	deCount, err := f.subgraph(t, de, Frontend()).CountChildNodes("home", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, deCount)
}

func TestSubgraph_ParentAndPath(t *testing.T) {
	f := site(t)
	sg := f.subgraph(t, en, Frontend())

	parent, err := sg.FindParentNode("team")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, events.NodeAggregateID("about"), parent.NodeAggregateID)

	rootParent, err := sg.FindParentNode("sites")
	require.NoError(t, err)
	assert.Nil(t, rootParent)

	n, err := sg.FindNodeByPath("home/about/team", "sites")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, events.NodeAggregateID("team"), n.NodeAggregateID)

	self, err := sg.FindNodeByPath("", "home")
	require.NoError(t, err)
	require.NotNil(t, self)
	assert.Equal(t, events.NodeAggregateID("home"), self.NodeAggregateID)

	none, err := sg.FindNodeByPath("home/missing", "sites")
	require.NoError(t, err)
	assert.Nil(t, none)

	hidden, err := f.subgraph(t, de, Frontend()).FindNodeByPath("home/about/team", "sites")
	require.NoError(t, err)
	assert.Nil(t, hidden)
}

func TestSubgraph_Subtrees(t *testing.T) {
	f := site(t)
	sg := f.subgraph(t, en, Frontend())

	trees, err := sg.FindSubtrees([]events.NodeAggregateID{"home"}, -1, nil)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	home := trees[0]
	assert.Equal(t, 0, home.Level)
	require.Len(t, home.Children, 2)
	about := home.Children[0]
	assert.Equal(t, events.NodeAggregateID("about"), about.Node.NodeAggregateID)
	require.Len(t, about.Children, 1)
	assert.Equal(t, 2, about.Children[0].Level)

	shallow, err := sg.FindSubtrees([]events.NodeAggregateID{"home"}, 1, nil)
	require.NoError(t, err)
	require.Len(t, shallow, 1)
	require.Len(t, shallow[0].Children, 2)
	assert.Empty(t, shallow[0].Children[0].Children)

	filtered, err := sg.FindSubtrees([]events.NodeAggregateID{"home"}, -1, NodeTypeFilter{"Vendor:Blog"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Len(t, filtered[0].Children, 1)

	deTrees, err := f.subgraph(t, de, Frontend()).FindSubtrees([]events.NodeAggregateID{"home", "about"}, -1, nil)
	require.NoError(t, err)
	require.Len(t, deTrees, 1)
	assert.Len(t, deTrees[0].Children, 1)
}

func TestSubgraph_References(t *testing.T) {
	f := site(t)
	sg := f.subgraph(t, en, Frontend())

	refs, err := sg.FindReferencedNodes("blog", "authors")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, events.NodeAggregateID("team"), refs[0].Node.NodeAggregateID)
	assert.Equal(t, events.NodeAggregateID("about"), refs[1].Node.NodeAggregateID)

	back, err := sg.FindReferencingNodes("about", "")
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, events.NodeAggregateID("blog"), back[0].Node.NodeAggregateID)
	assert.Equal(t, "authors", back[0].Name)
	assert.Equal(t, events.NodeAggregateID("home"), back[1].Node.NodeAggregateID)
	assert.Equal(t, "featured", back[1].Name)

	// Hidden targets drop out of the frontend view.
	deRefs, err := f.subgraph(t, de, Frontend()).FindReferencedNodes("blog", "")
	require.NoError(t, err)
	assert.Empty(t, deRefs)

	none, err := sg.FindReferencedNodes("team", "authors")
	require.NoError(t, err)
	assert.Empty(t, none)
}
